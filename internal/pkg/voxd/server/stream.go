package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/enhance"
)

// handleStream upgrades to WebSocket and serves synthesis requests until the
// client disconnects. Protocol errors are reported in-band and keep the
// connection open; only transport failures end the session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	sess := &streamSession{srv: s, conn: conn}
	sess.run(r.Context())
	conn.Close(websocket.StatusNormalClosure, "session closed")
}

type streamSession struct {
	srv  *Server
	conn *websocket.Conn
}

func (ss *streamSession) run(ctx context.Context) {
	for {
		_, data, err := ss.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			log.Debug().Err(err).Msg("WebSocket read ended")
			return
		}

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !ss.sendError(ctx, "invalid JSON message") {
				return
			}
			continue
		}
		if req.Type != "synthesize" {
			if !ss.sendError(ctx, "unsupported message type: "+req.Type) {
				return
			}
			continue
		}

		sreq := synthesizeRequest{
			Text:     req.Text,
			Voice:    req.Voice,
			Language: req.Language,
			Instruct: req.Instruct,
			Speed:    req.Speed,
			Format:   string(audio.FormatWAV),
		}
		if err := validateSynthesis(&sreq); err != nil {
			if !ss.sendError(ctx, err.Error()) {
				return
			}
			continue
		}

		if !ss.synthesize(ctx, sreq) {
			return
		}
	}
}

// synthesize streams one request. The gate is held from the first unit to the
// last so interleaved requests never share the model. Returns false when the
// transport is gone.
func (ss *streamSession) synthesize(ctx context.Context, req synthesizeRequest) bool {
	syn, err := ss.srv.readySynthesizer()
	if err != nil {
		return ss.sendError(ctx, err.Error())
	}

	start := time.Now()
	release, err := ss.srv.acquireGate(ctx)
	if err != nil {
		return ss.sendError(ctx, err.Error())
	}
	defer release()

	stream, err := syn.SynthesizeStream(ctx, engine.Request{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
		Instruct: req.Instruct,
		Speed:    req.Speed,
	})
	if err != nil {
		ss.srv.met.RecordRequest(ctx, "stream", "error")
		return ss.sendError(ctx, err.Error())
	}
	defer stream.Close()

	seq := 0
	for {
		unit, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ss.srv.met.RecordRequest(ctx, "stream", "error")
			return ss.sendError(ctx, err.Error())
		}

		if ss.srv.host.Config().Enhance {
			unit = enhance.Process(unit)
		}
		chunk := streamChunk{
			Type:       "audio_chunk",
			Data:       base64.StdEncoding.EncodeToString(audio.Encode(unit, audio.FormatWAV)),
			SequenceID: seq,
			IsLast:     false,
		}
		if !ss.send(ctx, chunk) {
			return false
		}
		seq++
	}

	ss.srv.met.RecordRequest(ctx, "stream", "ok")
	ss.srv.met.RecordInference(ctx, ss.srv.host.Config().Backend, "stream", time.Since(start).Seconds())
	return ss.send(ctx, streamChunk{Type: "complete", SequenceID: seq, IsLast: true})
}

// sendError reports a request failure in-band. Returns false only when the
// write itself failed, meaning the client is gone.
func (ss *streamSession) sendError(ctx context.Context, msg string) bool {
	return ss.send(ctx, streamError{Type: "error", Message: msg})
}

func (ss *streamSession) send(ctx context.Context, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal stream message")
		return false
	}
	if err := ss.conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed, client gone")
		return false
	}
	return true
}
