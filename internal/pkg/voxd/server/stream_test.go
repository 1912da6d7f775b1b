package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type wsMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	SequenceID int    `json:"sequence_id"`
	IsLast     bool   `json:"is_last"`
	Message    string `json:"message"`
}

func dialStream(t *testing.T, url string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url+"/api/tts/stream", nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn, ctx
}

func sendJSON(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("websocket write error = %v", err)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) wsMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read error = %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func TestStreamProtocolSequence(t *testing.T) {
	ts, _, _ := newTestServer(t, true)
	conn, ctx := dialStream(t, ts.URL)

	sendJSON(t, ctx, conn, map[string]any{
		"type": "synthesize",
		"text": "One. Two. Three.",
	})

	for i := 0; i < 3; i++ {
		msg := readMessage(t, ctx, conn)
		if msg.Type != "audio_chunk" {
			t.Fatalf("message %d type = %q, want audio_chunk", i, msg.Type)
		}
		if msg.SequenceID != i {
			t.Errorf("message %d sequence_id = %d, want %d", i, msg.SequenceID, i)
		}
		if msg.IsLast {
			t.Errorf("message %d is_last = true, want false", i)
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			t.Fatalf("message %d data not base64: %v", i, err)
		}
		if string(payload[0:4]) != "RIFF" {
			t.Errorf("message %d payload is not WAV", i)
		}
	}

	done := readMessage(t, ctx, conn)
	if done.Type != "complete" {
		t.Fatalf("final message type = %q, want complete", done.Type)
	}
	if !done.IsLast {
		t.Error("complete message is_last = false, want true")
	}
	if done.SequenceID != 3 {
		t.Errorf("complete sequence_id = %d, want 3", done.SequenceID)
	}
}

func TestStreamBadMessagesKeepConnection(t *testing.T) {
	ts, _, _ := newTestServer(t, true)
	conn, ctx := dialStream(t, ts.URL)

	// Unknown type is reported in-band.
	sendJSON(t, ctx, conn, map[string]any{"type": "chant", "text": "hi"})
	if msg := readMessage(t, ctx, conn); msg.Type != "error" {
		t.Fatalf("message type = %q, want error", msg.Type)
	}

	// Invalid request likewise.
	sendJSON(t, ctx, conn, map[string]any{"type": "synthesize", "text": "   "})
	if msg := readMessage(t, ctx, conn); msg.Type != "error" {
		t.Fatalf("message type = %q, want error", msg.Type)
	}

	// The session still serves valid requests afterwards.
	sendJSON(t, ctx, conn, map[string]any{"type": "synthesize", "text": "Still here."})
	if msg := readMessage(t, ctx, conn); msg.Type != "audio_chunk" {
		t.Fatalf("message type = %q, want audio_chunk", msg.Type)
	}
	if msg := readMessage(t, ctx, conn); msg.Type != "complete" {
		t.Fatalf("message type = %q, want complete", msg.Type)
	}
}

func TestStreamErrorFrameShape(t *testing.T) {
	ts, _, _ := newTestServer(t, true)
	conn, ctx := dialStream(t, ts.URL)

	sendJSON(t, ctx, conn, map[string]any{"type": "chant", "text": "hi"})

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read error = %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if fields["type"] != "error" {
		t.Fatalf("type = %v, want error", fields["type"])
	}
	if fields["message"] == "" {
		t.Error("error frame has no message")
	}
	// Error frames carry only type and message, no chunk bookkeeping.
	for _, key := range []string{"sequence_id", "is_last", "data"} {
		if _, ok := fields[key]; ok {
			t.Errorf("error frame carries %q: %s", key, raw)
		}
	}
}

func TestStreamNotReady(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	conn, ctx := dialStream(t, ts.URL)

	sendJSON(t, ctx, conn, map[string]any{"type": "synthesize", "text": "hi"})
	if msg := readMessage(t, ctx, conn); msg.Type != "error" {
		t.Fatalf("message type = %q, want error", msg.Type)
	}
}

func TestStreamDisconnectReleasesGate(t *testing.T) {
	ts, _, h := newTestServer(t, true)
	conn, ctx := dialStream(t, ts.URL)

	sendJSON(t, ctx, conn, map[string]any{"type": "synthesize", "text": "One. Two."})
	// Take the first chunk, then vanish mid-stream.
	if msg := readMessage(t, ctx, conn); msg.Type != "audio_chunk" {
		t.Fatalf("message type = %q, want audio_chunk", msg.Type)
	}
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for h.Gate().Held() {
		if time.Now().After(deadline) {
			t.Fatal("gate still held after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
