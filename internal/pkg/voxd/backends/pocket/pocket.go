// Package pocket provides the Pocket lightweight CPU-first ONNX synthesis
// backend. Voices are short reference recordings; each is encoded once into
// a speaker state that conditions generation, cached per voice for the
// process lifetime.
package pocket

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/backends/onnx"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/text"
)

func init() {
	engine.Register("pocket", NewEngine)
}

const (
	sampleRate = 24000
	stateDim   = 512
)

type Engine struct {
	cfg engine.Config

	initialized bool
	loadCount   int

	generator  *ort.DynamicAdvancedSession
	refEncoder *ort.DynamicAdvancedSession
	tokenizer  *tokenizer

	voicesDir string
	catalog   []string
	// voiceStates caches encoded speaker states keyed by voice identifier.
	// Populated lazily under the gate, never evicted.
	voiceStates map[string][]float32
}

func NewEngine(cfg engine.Config) (engine.Engine, error) {
	return &Engine{cfg: cfg, voiceStates: make(map[string][]float32)}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		log.Warn().Str("backend", "pocket").Msg("Engine already initialized")
		return nil
	}

	start := time.Now()
	log.Info().Str("model", e.cfg.ModelPath).Msg("Loading pocket model")

	_, err := engine.RunWithTimeout(ctx, e.cfg.LoadTimeout, "pocket model load", func() (struct{}, error) {
		return struct{}{}, e.load()
	})
	if err != nil {
		return &engine.InitializationError{Backend: "pocket", Err: err}
	}

	e.initialized = true
	e.loadCount++
	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("voices", len(e.catalog)).
		Msg("Pocket model loaded")
	return nil
}

func (e *Engine) load() error {
	if err := onnx.EnsureEnvironment(); err != nil {
		return err
	}

	modelDir := e.cfg.ModelPath
	if strings.HasSuffix(modelDir, ".onnx") {
		modelDir = filepath.Dir(modelDir)
	}

	tok, err := newTokenizer(filepath.Join(modelDir, "vocab.json"))
	if err != nil {
		return fmt.Errorf("failed to create tokenizer: %w", err)
	}

	// Pocket is CPU-first; accelerator preference is ignored rather than
	// probed, so GPUActive stays false in Status.
	options, _, err := onnx.SessionOptions(false)
	if err != nil {
		return err
	}
	defer options.Destroy()

	generator, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "generator.onnx"),
		[]string{"input_ids", "speaker_state"},
		[]string{"waveform"},
		options,
	)
	if err != nil {
		return fmt.Errorf("failed to create generator session: %w", err)
	}

	refEncoder, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "ref_encoder.onnx"),
		[]string{"audio"},
		[]string{"speaker_state"},
		options,
	)
	if err != nil {
		generator.Destroy()
		return fmt.Errorf("failed to create reference encoder session: %w", err)
	}

	voicesDir := e.cfg.VoicesPath
	if voicesDir == "" {
		voicesDir = filepath.Join(modelDir, "voices")
	}
	catalog, err := indexVoices(voicesDir)
	if err != nil {
		generator.Destroy()
		refEncoder.Destroy()
		return err
	}

	e.generator = generator
	e.refEncoder = refEncoder
	e.tokenizer = tok
	e.voicesDir = voicesDir
	e.catalog = catalog
	return nil
}

func indexVoices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices directory: %w", err)
	}
	var catalog []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		catalog = append(catalog, strings.TrimSuffix(entry.Name(), ".wav"))
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("no reference voices in %s", dir)
	}
	sort.Strings(catalog)
	return catalog, nil
}

func (e *Engine) Synthesize(ctx context.Context, req engine.Request) (*audio.Audio, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "pocket"}
	}
	return engine.RunWithTimeout(ctx, e.cfg.InferTimeout, "pocket synthesis", func() (*audio.Audio, error) {
		return e.infer(req)
	})
}

func (e *Engine) infer(req engine.Request) (*audio.Audio, error) {
	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	voiceName := engine.ResolveSpeaker(req.Voice, e.catalog)
	state, err := e.speakerState(voiceName)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "pocket", Err: err}
	}

	tokens := e.tokenizer.encode(text.ExpandForSpeech(req.Text))
	if len(tokens) == 0 {
		return nil, &engine.InferenceError{Backend: "pocket", Err: fmt.Errorf("failed to tokenize text")}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "pocket", Err: fmt.Errorf("failed to create input_ids tensor: %w", err)}
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(state))), state)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "pocket", Err: fmt.Errorf("failed to create speaker_state tensor: %w", err)}
	}
	defer stateTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.generator.Run([]ort.Value{inputTensor, stateTensor}, outputs); err != nil {
		return nil, &engine.InferenceError{Backend: "pocket", Err: err}
	}
	if outputs[0] == nil {
		return nil, &engine.InferenceError{Backend: "pocket", Err: fmt.Errorf("no output from model")}
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, &engine.InferenceError{Backend: "pocket", Err: fmt.Errorf("unexpected output tensor type")}
	}

	samples := make([]float32, len(outputTensor.GetData()))
	copy(samples, outputTensor.GetData())
	out := audio.New(samples, sampleRate)

	// No native rate control: realize speed by resampling the finished
	// waveform, which preserves pitch.
	if req.Speed != 1.0 {
		out = audio.Resample(out, int(math.Round(float64(len(out.Samples))/float64(req.Speed))))
	}
	return out, nil
}

// speakerState returns the cached speaker state for voice, encoding the
// reference recording on first use. Population happens under the gate.
func (e *Engine) speakerState(voice string) ([]float32, error) {
	if state, ok := e.voiceStates[voice]; ok {
		return state, nil
	}

	start := time.Now()
	ref, err := audio.DecodeFile(filepath.Join(e.voicesDir, voice+".wav"))
	if err != nil {
		return nil, fmt.Errorf("failed to load reference voice %q: %w", voice, err)
	}

	refTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(ref.Samples))), ref.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference tensor: %w", err)
	}
	defer refTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.refEncoder.Run([]ort.Value{refTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to encode reference audio: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("no output from reference encoder")
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected reference encoder output type")
	}

	state := make([]float32, len(outputTensor.GetData()))
	copy(state, outputTensor.GetData())
	if len(state) < stateDim {
		return nil, fmt.Errorf("speaker state too short: %d values", len(state))
	}

	e.voiceStates[voice] = state
	log.Debug().Str("voice", voice).Dur("elapsed", time.Since(start)).Msg("Speaker state encoded")
	return state, nil
}

func (e *Engine) SynthesizeStream(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "pocket"}
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
	return append([]string(nil), e.catalog...)
}

func (e *Engine) Status() engine.Status {
	return engine.Status{
		Initialized:  e.initialized,
		Backend:      "pocket",
		GPURequested: e.cfg.UseGPU,
		GPUActive:    false,
		LoadCount:    e.loadCount,
	}
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:       "pocket",
		Languages:  []string{"en", "zh", "multilingual"},
		SampleRate: sampleRate,
	}
}

func (e *Engine) Close() error {
	e.initialized = false
	var firstErr error
	if e.generator != nil {
		if err := e.generator.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.generator = nil
	}
	if e.refEncoder != nil {
		if err := e.refEncoder.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.refEncoder = nil
	}
	return firstErr
}
