// Package portguard implements the pre-flight gate that verifies a TCP port
// about to be claimed by a new service is not still held by a stale instance
// from a previous run. It polls for the port to become free with a bounded
// number of attempts and reports a typed conflict when it never does.
package portguard

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultAttempts is the default number of free-port polls.
	DefaultAttempts = 10

	// DefaultInterval is the default pause between polls.
	DefaultInterval = 500 * time.Millisecond
)

// ConflictError reports that a required port did not free up within the
// bounded wait.
type ConflictError struct {
	Port     int
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %d still in use after %d attempts", e.Port, e.Attempts)
}

// WaitFree polls until the given TCP port can be bound on the loopback
// interface. If the port is still held after maxAttempts polls, WaitFree
// fails with *ConflictError. Binding (rather than dialing) is the check:
// a listener that is bound but not accepting would fool a dial probe.
func WaitFree(ctx context.Context, port, maxAttempts int, interval time.Duration) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	for attempt := 0; ; attempt++ {
		if free(port) {
			return nil
		}
		if attempt+1 >= maxAttempts {
			return &ConflictError{Port: port, Attempts: maxAttempts}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// free reports whether the port can currently be bound.
func free(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
