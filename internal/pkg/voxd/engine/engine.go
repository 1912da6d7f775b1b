// Package engine defines the capability contract every inference backend
// implements, the factory registry backends register into, and the
// concurrency gate that serializes all access to a loaded model.
package engine

import (
	"context"
	"time"

	"voxd/internal/pkg/voxd/audio"
)

// Engine is the base capability of every backend, TTS or STT. A backend owns
// its loaded model handle exclusively; no call into an Engine is safe to run
// concurrently with another, which is why the host wraps every operation in
// the Gate.
type Engine interface {
	// Initialize loads model weights. Idempotent: calling on a ready engine
	// is a logged no-op. An unavailable accelerator downgrades to CPU
	// silently (observable via Status), never fails initialization.
	Initialize(ctx context.Context) error

	// Status reports initialization and accelerator state without touching
	// model internals; it is safe to call without the gate.
	Status() Status

	// Speakers returns the supported voice identifiers. Empty before
	// Initialize succeeds.
	Speakers() []string

	Info() Info

	Close() error
}

// Synthesizer is implemented by TTS backends.
type Synthesizer interface {
	Engine

	// Synthesize produces the full waveform for req. The engine's native
	// output sample rate is authoritative over any caller preference.
	Synthesize(ctx context.Context, req Request) (*audio.Audio, error)

	// SynthesizeStream lazily synthesizes req one sentence at a time. The
	// returned stream is finite and not restartable.
	SynthesizeStream(ctx context.Context, req Request) (*Stream, error)
}

// Transcriber is implemented by STT backends.
type Transcriber interface {
	Engine

	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error)
}

// Request carries one synthesis call. Text is assumed normalized (collapsed
// whitespace, non-empty) by the caller before it reaches a backend.
type Request struct {
	Text     string
	Voice    string
	Language string
	Instruct string
	Speed    float32
}

// Task selects the whisper decoding mode.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Valid reports whether t names a supported decoding mode. The empty task
// defaults to transcription at the call site.
func (t Task) Valid() bool {
	return t == "" || t == TaskTranscribe || t == TaskTranslate
}

type TranscribeRequest struct {
	AudioPath string
	Language  string
	Task      Task
}

// Segment is one time-aligned piece of a transcription. End > Start and
// segments are non-decreasing across a Transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcription struct {
	Text                string
	Segments            []Segment
	Language            string
	LanguageProbability float64
	Duration            float64
	InferenceTime       time.Duration
}

// Status describes engine readiness and accelerator placement.
type Status struct {
	Initialized  bool
	Backend      string
	GPURequested bool
	GPUActive    bool
	// LoadCount counts completed model loads. A second Initialize on a
	// ready engine must not move it.
	LoadCount int
}

type Info struct {
	Name       string
	Languages  []string
	SampleRate int
}

// Config is the immutable per-process engine configuration, built once from
// the environment at startup.
type Config struct {
	Backend     string
	ModelPath   string
	ConfigPath  string
	VoicesPath  string
	ServerURL   string
	UseGPU      bool
	NoiseScale  float32
	LengthScale float32
	SampleRate  int

	DefaultVoice    string
	DefaultLanguage string
	DefaultInstruct string

	LoadTimeout  time.Duration
	InferTimeout time.Duration

	Enhance bool
	Warmup  bool
}

// ResolveSpeaker maps a requested voice onto the supported set. An unknown or
// empty voice falls back to the first supported speaker rather than erroring.
func ResolveSpeaker(requested string, supported []string) string {
	if len(supported) == 0 {
		return requested
	}
	for _, s := range supported {
		if s == requested {
			return requested
		}
	}
	return supported[0]
}
