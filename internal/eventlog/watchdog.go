package eventlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/telemetrylab/convoy/internal/service"
)

// Watchdog monitors the log for startup stalls. If no lifecycle event
// appears within stallTimeout, it publishes a progress.stall event with a
// snapshot showing which services have not reached a terminal phase and
// which dependencies they are waiting on.
//
// The goroutine exits when ctx is cancelled (startup is over) or when all
// services have reached a terminal phase.
func Watchdog(ctx context.Context, log *Log, graph service.Graph, stallTimeout time.Duration) {
	ticker := time.NewTicker(stallTimeout)
	defer ticker.Stop()

	var lastMaxSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events := lifecycleEvents(log.Events())
		var maxSeq uint64
		for _, e := range events {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}

		if maxSeq == lastMaxSeq && len(events) > 0 {
			stuck := stuckServices(events, graph)
			if len(stuck) == 0 {
				// Everything reached a terminal phase, nothing to report.
				return
			}
			log.Publish(Event{
				Type:    EventProgressStall,
				Message: formatStall(stuck, stallTimeout),
			})
		}

		lastMaxSeq = maxSeq
	}
}

// lifecycleEvents filters out service output, which flows continuously and
// would otherwise mask a stalled startup.
func lifecycleEvents(events []Event) []Event {
	out := events[:0:0]
	for _, e := range events {
		if e.Type != EventServiceLog && e.Type != EventProgressStall {
			out = append(out, e)
		}
	}
	return out
}

// stuckService names a service that has not reached a terminal phase and
// the dependencies it appears to be waiting on.
type stuckService struct {
	Name      string
	Phase     string
	WaitingOn []string
}

// phaseOf returns the current phase string for a service based on its most
// recent lifecycle event.
func phaseOf(id string, events []Event) string {
	phase := "pending"
	for _, e := range events {
		if e.Service != id {
			continue
		}
		switch e.Type {
		case EventServiceStarting:
			phase = "starting"
		case EventServiceStarted:
			phase = "started"
		case EventServiceReady:
			phase = "ready"
		case EventServiceFailed:
			phase = "failed"
		case EventServiceSkipped:
			phase = "skipped"
		case EventServiceStopping:
			phase = "stopping"
		case EventServiceStopped:
			phase = "stopped"
		}
	}
	return phase
}

func terminalPhase(phase string) bool {
	switch phase {
	case "ready", "failed", "skipped", "stopping", "stopped":
		return true
	}
	return false
}

func stuckServices(events []Event, graph service.Graph) []stuckService {
	phases := make(map[string]string, len(graph.Specs))
	for _, s := range graph.Specs {
		phases[s.ID] = phaseOf(s.ID, events)
	}

	var stuck []stuckService
	for _, s := range graph.Specs {
		phase := phases[s.ID]
		if terminalPhase(phase) {
			continue
		}
		ss := stuckService{Name: s.ID, Phase: phase}
		if phase == "pending" {
			for _, dep := range s.DependsOn {
				if phases[dep] != "ready" {
					ss.WaitingOn = append(ss.WaitingOn, dep)
				}
			}
			sort.Strings(ss.WaitingOn)
		}
		stuck = append(stuck, ss)
	}
	return stuck
}

func formatStall(stuck []stuckService, stalledFor time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no progress for %s:", stalledFor)
	for _, s := range stuck {
		fmt.Fprintf(&b, "\n  %s: %s", s.Name, s.Phase)
		if len(s.WaitingOn) > 0 {
			b.WriteString(", waiting on ")
			b.WriteString(strings.Join(s.WaitingOn, ", "))
		}
	}
	return b.String()
}
