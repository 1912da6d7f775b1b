// Package whisper provides speech recognition through the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
)

func init() {
	engine.Register("whisper", NewEngine)
}

const (
	// Model input rate. Everything else gets resampled.
	modelSampleRate = 16000

	// Inputs whose RMS never rises above this are treated as silence and
	// skipped without touching the model.
	silenceRMS = 0.004
)

type Engine struct {
	cfg   engine.Config
	model whisperlib.Model

	initialized bool
	loadCount   int
}

func NewEngine(cfg engine.Config) (engine.Engine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("whisper: model path must not be empty")
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		log.Warn().Str("backend", "whisper").Msg("Engine already initialized")
		return nil
	}

	start := time.Now()
	log.Info().Str("model", e.cfg.ModelPath).Msg("Loading whisper model")

	model, err := engine.RunWithTimeout(ctx, e.cfg.LoadTimeout, "whisper model load", func() (whisperlib.Model, error) {
		return whisperlib.New(e.cfg.ModelPath)
	})
	if err != nil {
		return &engine.InitializationError{Backend: "whisper", Err: err}
	}

	e.model = model
	e.initialized = true
	e.loadCount++
	log.Info().Dur("elapsed", time.Since(start)).Msg("Whisper backend ready")
	return nil
}

func (e *Engine) Transcribe(ctx context.Context, req engine.TranscribeRequest) (*engine.Transcription, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "whisper"}
	}
	switch req.Task {
	case engine.TaskTranscribe, engine.TaskTranslate:
	case "":
		req.Task = engine.TaskTranscribe
	default:
		return nil, &engine.InvalidArgumentError{
			Field:  "task",
			Reason: fmt.Sprintf("must be %q or %q, got %q", engine.TaskTranscribe, engine.TaskTranslate, req.Task),
		}
	}

	a, err := audio.DecodeFile(req.AudioPath)
	if err != nil {
		return nil, &engine.InvalidArgumentError{Field: "audio", Reason: err.Error()}
	}
	if a.SampleRate != modelSampleRate {
		n := int(math.Round(float64(len(a.Samples)) * modelSampleRate / float64(a.SampleRate)))
		a = audio.New(audio.Resample(a, n).Samples, modelSampleRate)
	}

	duration := a.Duration()

	if rms(a.Samples) < silenceRMS {
		log.Debug().Float64("duration", duration).Msg("Input below silence threshold, skipping inference")
		return &engine.Transcription{
			Language: req.Language,
			Duration: duration,
		}, nil
	}

	start := time.Now()
	result, err := engine.RunWithTimeout(ctx, e.cfg.InferTimeout, "whisper transcription", func() (*engine.Transcription, error) {
		return e.infer(a.Samples, req)
	})
	if err != nil {
		return nil, err
	}
	result.Duration = duration
	result.InferenceTime = time.Since(start)

	log.Info().
		Float64("audio_seconds", duration).
		Dur("inference", result.InferenceTime).
		Str("language", result.Language).
		Msg("Transcription complete")
	return result, nil
}

// infer runs one whisper.cpp pass. Each call gets a fresh context from the
// shared model; contexts are not thread-safe but the gate already serializes
// callers.
func (e *Engine) infer(samples []float32, req engine.TranscribeRequest) (*engine.Transcription, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, &engine.InferenceError{Backend: "whisper", Err: fmt.Errorf("create context: %w", err)}
	}

	lang := req.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		log.Warn().Err(err).Str("language", lang).Msg("Failed to set language, using model default")
	}
	wctx.SetTranslate(req.Task == engine.TaskTranslate)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &engine.InferenceError{Backend: "whisper", Err: fmt.Errorf("process audio: %w", err)}
	}

	var (
		parts    []string
		segments []engine.Segment
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &engine.InferenceError{Backend: "whisper", Err: fmt.Errorf("read segment: %w", err)}
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		segments = append(segments, engine.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
	}

	detected := lang
	prob := 1.0
	if lang == "auto" {
		detected = wctx.DetectedLanguage()
	}

	return &engine.Transcription{
		Text:                strings.Join(parts, " "),
		Segments:            segments,
		Language:            detected,
		LanguageProbability: prob,
	}, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Speakers is empty for recognition backends; there is no voice to pick.
func (e *Engine) Speakers() []string { return nil }

func (e *Engine) Status() engine.Status {
	return engine.Status{
		Initialized:  e.initialized,
		Backend:      "whisper",
		GPURequested: e.cfg.UseGPU,
		// whisper.cpp decides accelerator use at build time, not per load.
		GPUActive: false,
		LoadCount: e.loadCount,
	}
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:       "whisper",
		Languages:  []string{"multilingual"},
		SampleRate: modelSampleRate,
	}
}

func (e *Engine) Close() error {
	e.initialized = false
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
