// Package host owns the lifetime of the loaded engine: one Host per process,
// created in main and handed to the server. It tracks the load state machine
// and carries the gate that serializes all model access.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/engine"
)

// State names the phase of the engine lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	// StateFailed means the model load failed. The process keeps serving
	// health and ping so orchestrators can observe the failure; gated
	// endpoints answer 503.
	StateFailed State = "failed"
)

type Host struct {
	cfg  engine.Config
	gate *engine.Gate

	mu      sync.RWMutex
	eng     engine.Engine
	state   State
	lastErr error
}

// New builds a Host around an engine constructed from the registry for
// cfg.Backend. The engine is not loaded yet; call Start.
func New(cfg engine.Config) (*Host, error) {
	eng, err := engine.New(cfg.Backend, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q engine: %w", cfg.Backend, err)
	}
	return &Host{
		cfg:   cfg,
		gate:  engine.NewGate(),
		eng:   eng,
		state: StateUninitialized,
	}, nil
}

// Start loads the model. A failure leaves the host in StateFailed rather than
// returning the process to the caller as dead: the health surface stays up.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateReady || h.state == StateInitializing {
		h.mu.Unlock()
		return nil
	}
	h.state = StateInitializing
	eng := h.eng
	h.mu.Unlock()

	err := eng.Initialize(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state = StateFailed
		h.lastErr = err
		log.Error().Err(err).Str("backend", h.cfg.Backend).Msg("Engine initialization failed, serving degraded")
		return err
	}
	h.state = StateReady
	h.lastErr = nil
	return nil
}

// State returns the current lifecycle phase.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Ready reports whether gated operations may be served.
func (h *Host) Ready() bool { return h.State() == StateReady }

// Err returns the initialization error when in StateFailed, nil otherwise.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Engine returns the hosted engine. Callers performing inference must hold
// the gate.
func (h *Host) Engine() engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eng
}

// Gate returns the capacity-one gate serializing model access.
func (h *Host) Gate() *engine.Gate { return h.gate }

// Config returns the engine configuration the host was built with.
func (h *Host) Config() engine.Config { return h.cfg }

// Synthesizer returns the engine as a Synthesizer, or an error when the
// configured backend does recognition instead.
func (h *Host) Synthesizer() (engine.Synthesizer, error) {
	s, ok := h.Engine().(engine.Synthesizer)
	if !ok {
		return nil, fmt.Errorf("backend %q does not synthesize speech", h.cfg.Backend)
	}
	return s, nil
}

// Transcriber returns the engine as a Transcriber, or an error when the
// configured backend does synthesis instead.
func (h *Host) Transcriber() (engine.Transcriber, error) {
	t, ok := h.Engine().(engine.Transcriber)
	if !ok {
		return nil, fmt.Errorf("backend %q does not transcribe speech", h.cfg.Backend)
	}
	return t, nil
}

// Shutdown closes the engine and returns the host to StateUninitialized from
// any state.
func (h *Host) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.eng != nil {
		err = h.eng.Close()
	}
	h.state = StateUninitialized
	h.lastErr = nil
	log.Info().Str("backend", h.cfg.Backend).Msg("Engine shut down")
	return err
}
