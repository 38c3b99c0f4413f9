// Package ready implements bounded readiness polling. A Checker performs a
// single probe; Poll repeats it at a fixed interval until it succeeds or the
// timeout elapses. Checkers are plain values so tests can inject fakes.
package ready

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultInterval is the pause between probe attempts.
	DefaultInterval = 250 * time.Millisecond

	// DefaultTimeout is the default maximum wait for readiness.
	DefaultTimeout = 30 * time.Second
)

// Checker performs a single readiness probe. Probes must be non-mutating.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// TimeoutError reports that a probe never succeeded within its timeout.
type TimeoutError struct {
	After   time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("readiness check failed after %s (last error: %v)", e.After, e.LastErr)
	}
	return fmt.Sprintf("readiness check failed after %s", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Poll repeatedly calls checker.Check, sleeping interval between attempts,
// until the check succeeds, the timeout elapses, or ctx is cancelled. A
// timeout is reported as *TimeoutError; cancellation propagates the context
// error so callers can tell an abandoned wait from a failed one.
func Poll(ctx context.Context, checker Checker, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	deadline := time.Now().Add(timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for {
		if err := checker.Check(pollCtx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				// The caller's context was cancelled: abandoned, not timed out.
				return ctx.Err()
			}
			return &TimeoutError{After: timeout, LastErr: lastErr}
		case <-time.After(interval):
		}

		if time.Now().After(deadline) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{After: timeout, LastErr: lastErr}
		}
	}
}
