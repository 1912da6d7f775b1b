package engine

import (
	"context"
	"time"
)

// RunWithTimeout executes fn in its own goroutine and bounds the wait by
// timeout (and ctx). The model runtimes underneath cannot be interrupted
// mid-call, so on expiry the goroutine is abandoned and its eventual result
// discarded; the caller gets a TimeoutError and, critically, releases the
// gate instead of holding it for a wedged backend. A timeout of zero or less
// means no deadline beyond ctx.
func RunWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-expire:
		return zero, &TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
