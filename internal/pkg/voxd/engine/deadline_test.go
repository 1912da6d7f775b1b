package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"voxd/internal/pkg/voxd/engine"
)

func TestRunWithTimeoutReturnsResult(t *testing.T) {
	got, err := engine.RunWithTimeout(context.Background(), time.Second, "fast op", func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RunWithTimeout() error = %v", err)
	}
	if got != 42 {
		t.Errorf("RunWithTimeout() = %d, want 42", got)
	}
}

func TestRunWithTimeoutPropagatesError(t *testing.T) {
	boom := errors.New("nope")
	_, err := engine.RunWithTimeout(context.Background(), time.Second, "failing op", func() (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("RunWithTimeout() error = %v, want %v", err, boom)
	}
}

func TestRunWithTimeoutExpires(t *testing.T) {
	_, err := engine.RunWithTimeout(context.Background(), 10*time.Millisecond, "slow op", func() (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	})

	var timeout *engine.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("RunWithTimeout() error = %T, want *TimeoutError", err)
	}
	if timeout.Op != "slow op" {
		t.Errorf("TimeoutError.Op = %q, want %q", timeout.Op, "slow op")
	}
	if timeout.After != 10*time.Millisecond {
		t.Errorf("TimeoutError.After = %v, want 10ms", timeout.After)
	}
}

func TestRunWithTimeoutContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := engine.RunWithTimeout(ctx, time.Minute, "blocked op", func() (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithTimeout() error = %v, want context.Canceled", err)
	}
}

func TestRunWithTimeoutZeroMeansNoDeadline(t *testing.T) {
	got, err := engine.RunWithTimeout(context.Background(), 0, "undeadlined op", func() (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})
	if err != nil {
		t.Fatalf("RunWithTimeout() error = %v", err)
	}
	if got != "done" {
		t.Errorf("RunWithTimeout() = %q, want %q", got, "done")
	}
}
