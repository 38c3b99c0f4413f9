package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/telemetrylab/convoy/internal/eventlog"
)

// Bridge maps interrupt and termination signals onto the run's single
// cancellation path. The shell scripts this replaces installed INT, TERM
// and EXIT traps that raced each other; here every trigger collapses into
// one context cancellation that the coordinator consumes exactly once.
type Bridge struct {
	ch   chan os.Signal
	done chan struct{}
}

// InstallBridge starts listening for SIGINT and SIGTERM and calls cancel on
// the first one. It must be installed before the first service is started so
// a signal arriving mid-startup still triggers full teardown of whatever has
// been registered so far.
func InstallBridge(cancel context.CancelFunc, log *eventlog.Log) *Bridge {
	b := &Bridge{
		ch:   make(chan os.Signal, 2),
		done: make(chan struct{}),
	}
	signal.Notify(b.ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(b.done)
		sig, ok := <-b.ch
		if !ok {
			return
		}
		if log != nil {
			log.Publish(eventlog.Event{
				Type:    eventlog.EventRunDown,
				Message: fmt.Sprintf("received %s, shutting down", sig),
			})
		}
		cancel()
		// Further signals are ignored: teardown is already in flight and
		// the one-shot guard makes re-triggering harmless anyway.
	}()

	return b
}

// Uninstall stops signal delivery. Safe to call once teardown has finished.
func (b *Bridge) Uninstall() {
	signal.Stop(b.ch)
	close(b.ch)
	<-b.done
}
