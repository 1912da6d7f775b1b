// Package kokoro provides the Kokoro ONNX synthesis backend. Voices are
// style embeddings stored as raw float32 files in a voices directory; they
// are loaded lazily on first use and cached for the process lifetime.
package kokoro

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/backends/onnx"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/text"
)

func init() {
	engine.Register("kokoro", NewEngine)
}

const sampleRate = 24000

type Engine struct {
	cfg engine.Config

	initialized bool
	loadCount   int
	gpuActive   bool

	session   *ort.DynamicAdvancedSession
	voices    *voiceStore
	tokenizer *tokenizer
}

func NewEngine(cfg engine.Config) (engine.Engine, error) {
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		log.Warn().Str("backend", "kokoro").Msg("Engine already initialized")
		return nil
	}

	start := time.Now()
	log.Info().Str("model", e.cfg.ModelPath).Str("voices", e.cfg.VoicesPath).Msg("Loading kokoro model")

	_, err := engine.RunWithTimeout(ctx, e.cfg.LoadTimeout, "kokoro model load", func() (struct{}, error) {
		return struct{}{}, e.load()
	})
	if err != nil {
		return &engine.InitializationError{Backend: "kokoro", Err: err}
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
		Int("voices", len(e.voices.catalog)).
		Msg("Kokoro model loaded")
	return nil
}

func (e *Engine) load() error {
	if err := onnx.EnsureEnvironment(); err != nil {
		return err
	}

	voices, err := newVoiceStore(e.cfg.VoicesPath)
	if err != nil {
		return fmt.Errorf("failed to index voices: %w", err)
	}

	tok, err := newTokenizer(e.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	options, gpuActive, err := onnx.SessionOptions(e.cfg.UseGPU)
	if err != nil {
		return err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		e.cfg.ModelPath,
		[]string{"input_ids", "style", "speed"},
		[]string{"waveform"},
		options,
	)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e.session = session
	e.voices = voices
	e.tokenizer = tok
	e.gpuActive = gpuActive
	return nil
}

func (e *Engine) Synthesize(ctx context.Context, req engine.Request) (*audio.Audio, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "kokoro"}
	}
	return engine.RunWithTimeout(ctx, e.cfg.InferTimeout, "kokoro synthesis", func() (*audio.Audio, error) {
		return e.infer(req)
	})
}

func (e *Engine) infer(req engine.Request) (*audio.Audio, error) {
	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	tokens := e.tokenizer.encode(text.ExpandForSpeech(req.Text))
	if len(tokens) == 0 {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("failed to tokenize text")}
	}

	// Cache population happens under the gate (the host serializes all
	// engine calls), so there is no duplicate-load race; reads of an
	// already-populated entry are append-only safe.
	voiceName := engine.ResolveSpeaker(req.Voice, e.voices.catalog)
	style, err := e.voices.embedding(voiceName)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("failed to load voice %q: %w", voiceName, err)}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("failed to create input_ids tensor: %w", err)}
	}
	defer inputTensor.Destroy()

	styleTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(style))), style)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("failed to create style tensor: %w", err)}
	}
	defer styleTensor.Destroy()

	speedTensor, err := ort.NewTensor(ort.NewShape(1), []float32{req.Speed})
	if err != nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("failed to create speed tensor: %w", err)}
	}
	defer speedTensor.Destroy()

	inputs := []ort.Value{inputTensor, styleTensor, speedTensor}
	outputs := make([]ort.Value, 1)
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: err}
	}
	if outputs[0] == nil {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("no output from model")}
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, &engine.InferenceError{Backend: "kokoro", Err: fmt.Errorf("unexpected output tensor type")}
	}

	samples := make([]float32, len(outputTensor.GetData()))
	copy(samples, outputTensor.GetData())
	return audio.New(samples, sampleRate), nil
}

func (e *Engine) SynthesizeStream(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "kokoro"}
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
	return append([]string(nil), e.voices.catalog...)
}

func (e *Engine) Status() engine.Status {
	return engine.Status{
		Initialized:  e.initialized,
		Backend:      "kokoro",
		GPURequested: e.cfg.UseGPU,
		GPUActive:    e.gpuActive,
		LoadCount:    e.loadCount,
	}
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:       "kokoro",
		Languages:  []string{"en", "zh"},
		SampleRate: sampleRate,
	}
}

func (e *Engine) Close() error {
	e.initialized = false
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return err
		}
		e.session = nil
	}
	return nil
}
