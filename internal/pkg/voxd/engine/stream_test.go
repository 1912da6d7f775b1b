package engine_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/engine"
)

func TestStreamProducesUnitsInOrder(t *testing.T) {
	sentences := []string{"one", "two", "three"}
	var calls atomic.Int32

	s := engine.NewStream(context.Background(), sentences, func(_ context.Context, sentence string) (*audio.Audio, error) {
		calls.Add(1)
		// Encode the unit index in the sample count so order is checkable.
		n := 0
		for i, want := range sentences {
			if want == sentence {
				n = i + 1
			}
		}
		return audio.New(make([]float32, n), 22050), nil
	})
	defer s.Close()

	if got := s.Len(); got != len(sentences) {
		t.Fatalf("Len() = %d, want %d", got, len(sentences))
	}

	for i := range sentences {
		// Lazy: nothing synthesized ahead of the consumer.
		if got := int(calls.Load()); got != i {
			t.Fatalf("synth calls before unit %d = %d, want %d", i, got, i)
		}
		unit, err := s.Next()
		if err != nil {
			t.Fatalf("Next() unit %d error = %v", i, err)
		}
		if len(unit.Samples) != i+1 {
			t.Errorf("unit %d has %d samples, want %d (order violated)", i, len(unit.Samples), i+1)
		}
	}

	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after exhaustion = %v, want io.EOF", err)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("repeated Next() after exhaustion = %v, want io.EOF", err)
	}
}

func TestStreamSynthErrorPropagates(t *testing.T) {
	boom := errors.New("model fault")
	s := engine.NewStream(context.Background(), []string{"a"}, func(context.Context, string) (*audio.Audio, error) {
		return nil, boom
	})
	defer s.Close()

	if _, err := s.Next(); !errors.Is(err, boom) {
		t.Errorf("Next() = %v, want %v", err, boom)
	}
}

func TestStreamCloseStopsSynthesis(t *testing.T) {
	var calls atomic.Int32
	s := engine.NewStream(context.Background(), []string{"a", "b"}, func(context.Context, string) (*audio.Audio, error) {
		calls.Add(1)
		return audio.New([]float32{0}, 22050), nil
	})

	if _, err := s.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	s.Close()

	if _, err := s.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() after Close = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("synth calls after Close = %d, want 1", got)
	}
	// Close is idempotent.
	s.Close()
}

func TestStreamParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := engine.NewStream(ctx, []string{"a"}, func(context.Context, string) (*audio.Audio, error) {
		return audio.New([]float32{0}, 22050), nil
	})
	defer s.Close()

	cancel()
	if _, err := s.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() after parent cancel = %v, want context.Canceled", err)
	}
}
