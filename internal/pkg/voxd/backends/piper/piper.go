// Package piper provides the Piper (VITS) ONNX synthesis backend. A voice is
// a model file plus a JSON config carrying the sample rate, inference scales
// and the phoneme-to-id table.
package piper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/backends/onnx"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/text"
)

func init() {
	engine.Register("piper", NewEngine)
}

const defaultSampleRate = 22050

// voiceConfig mirrors the relevant parts of a piper .onnx.json voice config.
type voiceConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Inference struct {
		NoiseScale  float32 `json:"noise_scale"`
		LengthScale float32 `json:"length_scale"`
		NoiseW      float32 `json:"noise_w"`
	} `json:"inference"`
	PhonemeIDMap map[string][]int64 `json:"phoneme_id_map"`
	NumSpeakers  int                `json:"num_speakers"`
	SpeakerIDMap map[string]int64   `json:"speaker_id_map"`
}

type Engine struct {
	cfg engine.Config

	initialized bool
	loadCount   int
	gpuActive   bool

	session  *ort.DynamicAdvancedSession
	voice    *voiceConfig
	speakers []string
}

func NewEngine(cfg engine.Config) (engine.Engine, error) {
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		log.Warn().Str("backend", "piper").Msg("Engine already initialized")
		return nil
	}

	start := time.Now()
	log.Info().Str("model", e.cfg.ModelPath).Msg("Loading piper model")

	_, err := engine.RunWithTimeout(ctx, e.cfg.LoadTimeout, "piper model load", func() (struct{}, error) {
		return struct{}{}, e.load()
	})
	if err != nil {
		return &engine.InitializationError{Backend: "piper", Err: err}
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
		Int("sample_rate", e.voice.Audio.SampleRate).
		Msg("Piper model loaded")
	return nil
}

func (e *Engine) load() error {
	if err := onnx.EnsureEnvironment(); err != nil {
		return err
	}

	data, err := os.ReadFile(e.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read voice config: %w", err)
	}
	var vc voiceConfig
	if err := json.Unmarshal(data, &vc); err != nil {
		return fmt.Errorf("failed to parse voice config: %w", err)
	}
	if vc.Audio.SampleRate == 0 {
		vc.Audio.SampleRate = defaultSampleRate
	}
	if vc.Inference.LengthScale == 0 {
		vc.Inference.LengthScale = 1.0
	}
	if e.cfg.NoiseScale > 0 {
		vc.Inference.NoiseScale = e.cfg.NoiseScale
	}
	if e.cfg.LengthScale > 0 {
		vc.Inference.LengthScale = e.cfg.LengthScale
	}

	options, gpuActive, err := onnx.SessionOptions(e.cfg.UseGPU)
	if err != nil {
		return err
	}
	defer options.Destroy()

	inputNames := []string{"input", "input_lengths", "scales"}
	if vc.NumSpeakers > 1 {
		inputNames = append(inputNames, "sid")
	}
	session, err := ort.NewDynamicAdvancedSession(
		e.cfg.ModelPath,
		inputNames,
		[]string{"output"},
		options,
	)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e.session = session
	e.voice = &vc
	e.gpuActive = gpuActive
	e.speakers = speakerNames(&vc)
	return nil
}

func speakerNames(vc *voiceConfig) []string {
	if len(vc.SpeakerIDMap) == 0 {
		return []string{"default"}
	}
	names := make([]string, 0, len(vc.SpeakerIDMap))
	for name := range vc.SpeakerIDMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Synthesize(ctx context.Context, req engine.Request) (*audio.Audio, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "piper"}
	}
	return engine.RunWithTimeout(ctx, e.cfg.InferTimeout, "piper synthesis", func() (*audio.Audio, error) {
		return e.infer(req)
	})
}

func (e *Engine) infer(req engine.Request) (*audio.Audio, error) {
	if req.Speed <= 0 {
		req.Speed = 1.0
	}
	ids := e.phonemeIDs(text.ExpandForSpeech(req.Text))
	if len(ids) == 0 {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("no encodable phonemes in text")}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("failed to create input tensor: %w", err)}
	}
	defer inputTensor.Destroy()

	lengthTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(len(ids))})
	if err != nil {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("failed to create length tensor: %w", err)}
	}
	defer lengthTensor.Destroy()

	// Speed maps onto the model's native rate control: a higher speed
	// shortens the predicted durations through the length scale.
	scales := []float32{
		e.voice.Inference.NoiseScale,
		e.voice.Inference.LengthScale / req.Speed,
		e.voice.Inference.NoiseW,
	}
	scalesTensor, err := ort.NewTensor(ort.NewShape(3), scales)
	if err != nil {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("failed to create scales tensor: %w", err)}
	}
	defer scalesTensor.Destroy()

	inputs := []ort.Value{inputTensor, lengthTensor, scalesTensor}

	if e.voice.NumSpeakers > 1 {
		sid := e.speakerID(req.Voice)
		sidTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sid})
		if err != nil {
			return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("failed to create sid tensor: %w", err)}
		}
		defer sidTensor.Destroy()
		inputs = append(inputs, sidTensor)
	}

	outputs := make([]ort.Value, 1)
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, &engine.InferenceError{Backend: "piper", Err: err}
	}
	if outputs[0] == nil {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("no output from model")}
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, &engine.InferenceError{Backend: "piper", Err: fmt.Errorf("unexpected output tensor type")}
	}

	samples := make([]float32, len(outputTensor.GetData()))
	copy(samples, outputTensor.GetData())
	return audio.New(samples, e.voice.Audio.SampleRate), nil
}

// phonemeIDs encodes text through the voice's phoneme_id_map, one rune per
// lookup with piper's BOS/EOS/pad interleaving. Runes missing from the map
// are skipped.
func (e *Engine) phonemeIDs(s string) []int64 {
	m := e.voice.PhonemeIDMap
	ids := make([]int64, 0, len(s)*2+2)
	appendIDs := func(key string) {
		if mapped, ok := m[key]; ok {
			ids = append(ids, mapped...)
		}
	}

	appendIDs("^")
	for _, r := range s {
		mapped, ok := m[string(r)]
		if !ok {
			continue
		}
		ids = append(ids, mapped...)
		appendIDs("_")
	}
	appendIDs("$")
	return ids
}

func (e *Engine) speakerID(voice string) int64 {
	resolved := engine.ResolveSpeaker(voice, e.speakers)
	if id, ok := e.voice.SpeakerIDMap[resolved]; ok {
		return id
	}
	return 0
}

func (e *Engine) SynthesizeStream(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	if !e.initialized {
		return nil, &engine.NotInitializedError{Backend: "piper"}
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
		Backend:      "piper",
		GPURequested: e.cfg.UseGPU,
		GPUActive:    e.gpuActive,
		LoadCount:    e.loadCount,
	}
}

func (e *Engine) Info() engine.Info {
	rate := defaultSampleRate
	if e.voice != nil {
		rate = e.voice.Audio.SampleRate
	}
	return engine.Info{
		Name:       "piper",
		Languages:  []string{"en"},
		SampleRate: rate,
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
