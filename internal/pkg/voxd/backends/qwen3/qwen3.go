// Package qwen3 provides the Qwen3 synthesis backend. The model runs in a
// dedicated inference sidecar exposing a small JSON API; this backend is the
// HTTP client for it. Language and instruction prompts pass straight through
// to the model.
package qwen3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/text"
)

func init() {
	engine.Register("qwen3", NewEngine)
}

const warmupText = "Hello, this is a warmup sentence to preallocate inference buffers."

type Engine struct {
	cfg    engine.Config
	client *http.Client

	initialized bool
	loadCount   int
	gpuActive   bool
	speakers    []string
	sampleRate  int
}

func NewEngine(cfg engine.Config) (engine.Engine, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("qwen3: server URL must not be empty")
	}
	return &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.InferTimeout + 10*time.Second},
	}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		log.Warn().Str("backend", "qwen3").Msg("Engine already initialized")
		return nil
	}

	start := time.Now()
	log.Info().Str("server", e.cfg.ServerURL).Msg("Connecting to qwen3 inference server")

	_, err := engine.RunWithTimeout(ctx, e.cfg.LoadTimeout, "qwen3 server probe", func() (struct{}, error) {
		return struct{}{}, e.probe(ctx)
	})
	if err != nil {
		return &engine.InitializationError{Backend: "qwen3", Err: err}
	}

	e.initialized = true
	e.loadCount++
	device := "CPU"
	if e.gpuActive {
		device = "GPU"
	}
	log.Info().
		Dur("elapsed", time.Since(start)).
		Str("device", device).
		Int("speakers", len(e.speakers)).
		Msg("Qwen3 backend ready")

	if e.cfg.Warmup {
		if _, err := e.infer(ctx, engine.Request{Text: warmupText, Speed: 1.0}); err != nil {
			log.Warn().Err(err).Msg("Warmup synthesis failed")
		}
	}
	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
}

type speakersResponse struct {
	Speakers []string `json:"speakers"`
}

func (e *Engine) probe(ctx context.Context) error {
	var health healthResponse
	if err := e.getJSON(ctx, "/v1/health", &health); err != nil {
		return fmt.Errorf("inference server unreachable: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("inference server unhealthy: %q", health.Status)
	}

	var speakers speakersResponse
	if err := e.getJSON(ctx, "/v1/speakers", &speakers); err != nil {
		return fmt.Errorf("failed to fetch speaker catalog: %w", err)
	}

	e.gpuActive = health.Device == "cuda"
	e.sampleRate = health.SampleRate
	if e.sampleRate == 0 {
		e.sampleRate = 24000
	}
	e.speakers = speakers.Speakers
	return nil
}

func (e *Engine) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.ServerURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (e *Engine) Synthesize(ctx context.Context, req engine.Request) (*audio.Audio, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "qwen3"}
	}
	return engine.RunWithTimeout(ctx, e.cfg.InferTimeout, "qwen3 synthesis", func() (*audio.Audio, error) {
		return e.infer(ctx, req)
	})
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Speaker  string `json:"speaker"`
	Language string `json:"language"`
	Instruct string `json:"instruct"`
}

type synthesizeResponse struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

func (e *Engine) infer(ctx context.Context, req engine.Request) (*audio.Audio, error) {
	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	lang := req.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	instruct := req.Instruct
	if instruct == "" {
		instruct = e.cfg.DefaultInstruct
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:     req.Text,
		Speaker:  engine.ResolveSpeaker(req.Voice, e.speakers),
		Language: lang,
		Instruct: instruct,
	})
	if err != nil {
		return nil, &engine.InferenceError{Backend: "qwen3", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.ServerURL+"/v1/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, &engine.InferenceError{Backend: "qwen3", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "qwen3", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &engine.InferenceError{
			Backend: "qwen3",
			Err:     fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	var result synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &engine.InferenceError{Backend: "qwen3", Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	pcm, err := base64.StdEncoding.DecodeString(result.Audio)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "qwen3", Err: fmt.Errorf("failed to decode audio payload: %w", err)}
	}

	rate := result.SampleRate
	if rate == 0 {
		rate = e.sampleRate
	}
	out := audio.New(pcm16ToFloat32(pcm), rate)

	// The sidecar has no rate control; realize speed by pitch-preserving
	// resampling of the finished waveform.
	if req.Speed != 1.0 {
		out = audio.Resample(out, int(math.Round(float64(len(out.Samples))/float64(req.Speed))))
	}
	return out, nil
}

// pcm16ToFloat32 converts little-endian signed 16-bit PCM to normalized
// float32 samples.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

func (e *Engine) SynthesizeStream(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "qwen3"}
	}
	sentences := text.SplitSentences(req.Text)
	return engine.NewStream(ctx, sentences, func(ctx context.Context, sentence string) (*audio.Audio, error) {
		unit := req
		unit.Text = sentence
		return e.Synthesize(ctx, unit)
	}), nil
}

func (e *Engine) Speakers() []string {
	if !e.initialized {
		return nil
	}
	return append([]string(nil), e.speakers...)
}

func (e *Engine) Status() engine.Status {
	return engine.Status{
		Initialized:  e.initialized,
		Backend:      "qwen3",
		GPURequested: e.cfg.UseGPU,
		GPUActive:    e.gpuActive,
		LoadCount:    e.loadCount,
	}
}

func (e *Engine) Info() engine.Info {
	rate := e.sampleRate
	if rate == 0 {
		rate = 24000
	}
	return engine.Info{
		Name:       "qwen3",
		Languages:  []string{"multilingual"},
		SampleRate: rate,
	}
}

func (e *Engine) Close() error {
	e.initialized = false
	e.client.CloseIdleConnections()
	return nil
}
