package host_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
	"voxd/internal/pkg/voxd/host"
)

// fakeTTS is a minimal Synthesizer whose load behavior is steered through
// Config.ModelPath.
type fakeTTS struct {
	cfg         engine.Config
	initialized bool
	loads       atomic.Int32
	closed      atomic.Bool
}

func (f *fakeTTS) Initialize(context.Context) error {
	if f.cfg.ModelPath == "fail" {
		return &engine.InitializationError{Backend: "fake-tts", Err: errors.New("weights missing")}
	}
	if f.initialized {
		return nil
	}
	f.initialized = true
	f.loads.Add(1)
	return nil
}

func (f *fakeTTS) Status() engine.Status {
	return engine.Status{Initialized: f.initialized, Backend: "fake-tts", LoadCount: int(f.loads.Load())}
}

func (f *fakeTTS) Speakers() []string { return []string{"default"} }
func (f *fakeTTS) Info() engine.Info  { return engine.Info{Name: "fake-tts", SampleRate: 22050} }
func (f *fakeTTS) Close() error {
	f.closed.Store(true)
	f.initialized = false
	return nil
}

func (f *fakeTTS) Synthesize(context.Context, engine.Request) (*audio.Audio, error) {
	return audio.New(make([]float32, 10), 22050), nil
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	return engine.NewStream(ctx, []string{req.Text}, func(context.Context, string) (*audio.Audio, error) {
		return audio.New(make([]float32, 10), 22050), nil
	}), nil
}

type fakeSTT struct{ fakeTTS }

func (f *fakeSTT) Transcribe(context.Context, engine.TranscribeRequest) (*engine.Transcription, error) {
	return &engine.Transcription{Text: "ok"}, nil
}

var lastFake *fakeTTS

func init() {
	engine.Register("fake-tts", func(cfg engine.Config) (engine.Engine, error) {
		lastFake = &fakeTTS{cfg: cfg}
		return lastFake, nil
	})
	engine.Register("fake-stt", func(cfg engine.Config) (engine.Engine, error) {
		return &fakeSTT{fakeTTS{cfg: cfg}}, nil
	})
}

func newHost(t *testing.T, backend, modelPath string) *host.Host {
	t.Helper()
	h, err := host.New(engine.Config{Backend: backend, ModelPath: modelPath})
	if err != nil {
		t.Fatalf("host.New() error = %v", err)
	}
	return h
}

func TestHostLifecycle(t *testing.T) {
	h := newHost(t, "fake-tts", "ok")

	if got := h.State(); got != host.StateUninitialized {
		t.Fatalf("initial state = %q, want %q", got, host.StateUninitialized)
	}
	if h.Ready() {
		t.Fatal("Ready() = true before Start")
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := h.State(); got != host.StateReady {
		t.Errorf("state after Start = %q, want %q", got, host.StateReady)
	}
	if !h.Ready() {
		t.Error("Ready() = false after successful Start")
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	if err := h.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := h.State(); got != host.StateUninitialized {
		t.Errorf("state after Shutdown = %q, want %q", got, host.StateUninitialized)
	}
	if !lastFake.closed.Load() {
		t.Error("engine not closed on Shutdown")
	}
}

func TestHostStartIdempotent(t *testing.T) {
	h := newHost(t, "fake-tts", "ok")

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := lastFake.loads.Load(); got != 1 {
		t.Errorf("load count after double Start = %d, want 1", got)
	}
}

func TestHostFailedKeepsServing(t *testing.T) {
	h := newHost(t, "fake-tts", "fail")

	err := h.Start(context.Background())
	if err == nil {
		t.Fatal("Start() = nil, want initialization error")
	}
	var initErr *engine.InitializationError
	if !errors.As(err, &initErr) {
		t.Errorf("Start() error = %T, want *InitializationError", err)
	}

	if got := h.State(); got != host.StateFailed {
		t.Errorf("state = %q, want %q", got, host.StateFailed)
	}
	if h.Ready() {
		t.Error("Ready() = true in failed state")
	}
	if h.Err() == nil {
		t.Error("Err() = nil in failed state")
	}
	// Status remains observable for the health surface.
	if st := h.Engine().Status(); st.Initialized {
		t.Error("Status().Initialized = true after failed load")
	}
}

func TestHostUnknownBackend(t *testing.T) {
	if _, err := host.New(engine.Config{Backend: "no-such"}); err == nil {
		t.Error("host.New() with unknown backend = nil error")
	}
}

func TestHostCapabilityAccessors(t *testing.T) {
	tts := newHost(t, "fake-tts", "ok")
	if _, err := tts.Synthesizer(); err != nil {
		t.Errorf("Synthesizer() on TTS host error = %v", err)
	}
	if _, err := tts.Transcriber(); err == nil {
		t.Error("Transcriber() on TTS host = nil error")
	}

	stt := newHost(t, "fake-stt", "ok")
	if _, err := stt.Transcriber(); err != nil {
		t.Errorf("Transcriber() on STT host error = %v", err)
	}
	if _, err := stt.Synthesizer(); err != nil {
		t.Errorf("Synthesizer() on STT host error = %v (embeds synthesis fake)", err)
	}
}
