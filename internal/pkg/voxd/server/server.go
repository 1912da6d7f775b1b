// Package server exposes the HTTP and WebSocket API over a hosted engine.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/enhance"
	"voxd/internal/pkg/voxd/host"
	"voxd/internal/pkg/voxd/metrics"
	"voxd/internal/pkg/voxd/text"
)

const maxTextLen = 10000

type Server struct {
	host    *host.Host
	met     *metrics.Metrics
	version string
}

func New(h *host.Host, met *metrics.Metrics, version string) *Server {
	return &Server{host: h, met: met, version: version}
}

// Handler builds the route table. Health and ping never touch the gate so
// they stay responsive while a long synthesis is in flight.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tts/synthesize", s.handleSynthesize)
	mux.HandleFunc("POST /api/tts/synthesize/binary", s.handleSynthesizeBinary)
	mux.HandleFunc("GET /api/tts/voices", s.handleVoices)
	mux.HandleFunc("GET /api/tts/stream", s.handleStream)
	mux.HandleFunc("POST /api/stt/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// validateSynthesis normalizes and checks the request fields shared by the
// JSON, binary and streaming paths. Runs before the gate so malformed
// requests never queue.
func validateSynthesis(req *synthesizeRequest) error {
	req.Text = text.Normalize(req.Text)
	if req.Text == "" {
		return &engine.InvalidArgumentError{Field: "text", Reason: "must not be empty or only whitespace"}
	}
	if utf8.RuneCountInString(req.Text) > maxTextLen {
		return &engine.InvalidArgumentError{Field: "text", Reason: fmt.Sprintf("exceeds %d characters", maxTextLen)}
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if req.Speed < 0.5 || req.Speed > 2.0 {
		return &engine.InvalidArgumentError{Field: "speed", Reason: "must be between 0.5 and 2.0"}
	}
	if req.Format == "" {
		req.Format = string(audio.FormatWAV)
	}
	if !audio.Format(req.Format).Valid() {
		return &engine.InvalidArgumentError{Field: "format", Reason: fmt.Sprintf("unknown format %q", req.Format)}
	}
	return nil
}

// synthesize runs the gated synthesis path shared by the JSON and binary
// handlers: acquire, infer, optionally enhance.
func (s *Server) synthesize(w http.ResponseWriter, r *http.Request, endpoint string) (*audio.Audio, *synthesizeRequest, time.Time, bool) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, endpoint, &engine.InvalidArgumentError{Field: "body", Reason: "invalid JSON"})
		return nil, nil, time.Time{}, false
	}
	if err := validateSynthesis(&req); err != nil {
		s.writeError(w, r, endpoint, err)
		return nil, nil, time.Time{}, false
	}

	syn, err := s.readySynthesizer()
	if err != nil {
		s.writeError(w, r, endpoint, err)
		return nil, nil, time.Time{}, false
	}

	start := time.Now()
	release, err := s.acquireGate(r.Context())
	if err != nil {
		s.writeError(w, r, endpoint, err)
		return nil, nil, time.Time{}, false
	}
	defer release()

	out, err := syn.Synthesize(r.Context(), engine.Request{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
		Instruct: req.Instruct,
		Speed:    req.Speed,
	})
	if err != nil {
		s.writeError(w, r, endpoint, err)
		return nil, nil, time.Time{}, false
	}
	if s.host.Config().Enhance {
		out = enhance.Process(out)
	}
	s.met.RecordInference(r.Context(), s.host.Config().Backend, "synthesize", time.Since(start).Seconds())
	return out, &req, start, true
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	out, req, start, ok := s.synthesize(w, r, "synthesize")
	if !ok {
		return
	}

	data := audio.Encode(out, audio.Format(req.Format))
	elapsed := time.Since(start)
	duration := out.Duration()
	if duration > 0 {
		log.Info().
			Float64("duration", duration).
			Dur("elapsed", elapsed).
			Float64("rtf", elapsed.Seconds()/duration).
			Msg("Synthesis complete")
	}

	s.met.RecordRequest(r.Context(), "synthesize", "ok")
	s.writeJSON(w, http.StatusOK, synthesizeResponse{
		Audio:          base64.StdEncoding.EncodeToString(data),
		Duration:       duration,
		Format:         req.Format,
		SampleRate:     out.SampleRate,
		ProcessingTime: elapsed.Seconds(),
	})
}

func (s *Server) handleSynthesizeBinary(w http.ResponseWriter, r *http.Request) {
	out, req, _, ok := s.synthesize(w, r, "synthesize_binary")
	if !ok {
		return
	}

	data := audio.Encode(out, audio.Format(req.Format))
	s.met.RecordRequest(r.Context(), "synthesize_binary", "ok")
	w.Header().Set("Content-Type", audio.Format(req.Format).ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if !s.host.Ready() {
		s.writeError(w, r, "voices", errNotReady)
		return
	}
	voices := s.host.Engine().Speakers()
	if voices == nil {
		voices = []string{}
	}
	s.met.RecordRequest(r.Context(), "voices", "ok")
	s.writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	tr, err := s.readyTranscriber()
	if err != nil {
		s.writeError(w, r, "transcribe", err)
		return
	}

	// Reject malformed tasks here so they never queue on the gate. The
	// engine re-checks for callers that bypass the HTTP surface.
	task := engine.Task(r.FormValue("task"))
	if !task.Valid() {
		s.writeError(w, r, "transcribe", &engine.InvalidArgumentError{
			Field:  "task",
			Reason: fmt.Sprintf("must be %q or %q, got %q", engine.TaskTranscribe, engine.TaskTranslate, task),
		})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.writeError(w, r, "transcribe", &engine.InvalidArgumentError{Field: "audio", Reason: "missing audio file"})
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "voxd-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		s.writeError(w, r, "transcribe", fmt.Errorf("failed to buffer upload: %w", err))
		return
	}
	defer os.Remove(tmp.Name())
	size, err := io.Copy(tmp, file)
	tmp.Close()
	if err != nil {
		s.writeError(w, r, "transcribe", fmt.Errorf("failed to buffer upload: %w", err))
		return
	}
	log.Info().Str("file", header.Filename).Int64("bytes", size).Msg("Received audio upload")

	start := time.Now()
	release, err := s.acquireGate(r.Context())
	if err != nil {
		s.writeError(w, r, "transcribe", err)
		return
	}
	defer release()

	result, err := tr.Transcribe(r.Context(), engine.TranscribeRequest{
		AudioPath: tmp.Name(),
		Language:  r.FormValue("language"),
		Task:      task,
	})
	if err != nil {
		s.writeError(w, r, "transcribe", err)
		return
	}
	s.met.RecordInference(r.Context(), s.host.Config().Backend, "transcribe", time.Since(start).Seconds())

	segments := make([]wireSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, wireSegment(seg))
	}
	s.met.RecordRequest(r.Context(), "transcribe", "ok")
	s.writeJSON(w, http.StatusOK, transcriptionResponse{
		Text:                result.Text,
		Segments:            segments,
		Language:            result.Language,
		LanguageProbability: result.LanguageProbability,
		Duration:            result.Duration,
		InferenceTime:       result.InferenceTime.Seconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.host.Engine().Status()
	status := "healthy"
	if !s.host.Ready() {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		Version:     s.version,
		Engine:      s.host.Config().Backend,
		State:       string(s.host.State()),
		ModelLoaded: st.Initialized,
		GPUActive:   st.GPUActive,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

var errNotReady = errors.New("engine not ready")

func (s *Server) readySynthesizer() (engine.Synthesizer, error) {
	if !s.host.Ready() {
		return nil, errNotReady
	}
	return s.host.Synthesizer()
}

func (s *Server) readyTranscriber() (engine.Transcriber, error) {
	if !s.host.Ready() {
		return nil, errNotReady
	}
	return s.host.Transcriber()
}

// acquireGate queues on the model gate, recording wait time and in-flight
// occupancy. The returned release must run on every exit path.
func (s *Server) acquireGate(ctx context.Context) (func(), error) {
	s.met.InFlight.Add(ctx, 1)
	waitStart := time.Now()
	if err := s.host.Gate().Acquire(ctx); err != nil {
		s.met.InFlight.Add(ctx, -1)
		return nil, fmt.Errorf("request cancelled while queued: %w", err)
	}
	s.met.GateWait.Record(ctx, time.Since(waitStart).Seconds())
	return func() {
		s.host.Gate().Release()
		s.met.InFlight.Add(ctx, -1)
	}, nil
}

// writeError maps the error taxonomy onto HTTP statuses and records the
// failed request.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := http.StatusInternalServerError
	var (
		invalidArg *engine.InvalidArgumentError
		notInit    *engine.NotInitializedError
		timeout    *engine.TimeoutError
	)
	switch {
	case errors.As(err, &invalidArg):
		status = http.StatusBadRequest
	case errors.Is(err, errNotReady), errors.As(err, &notInit):
		status = http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Request failed")
	} else {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("Request rejected")
	}
	s.met.RecordRequest(r.Context(), endpoint, fmt.Sprintf("%d", status))
	s.writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
