package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/telemetrylab/convoy/internal/eventlog"
)

// renderEvents streams the event log to stderr until ctx is cancelled.
// Service output is prefixed with the service name; lifecycle events get a
// compact one-line form.
func renderEvents(ctx context.Context, log *eventlog.Log) {
	for e := range log.Subscribe(ctx, 0) {
		switch e.Type {
		case eventlog.EventServiceLog:
			if e.Log == nil {
				continue
			}
			for _, line := range strings.Split(strings.TrimRight(e.Log.Data, "\n"), "\n") {
				fmt.Fprintf(os.Stderr, "%s | %s\n", e.Service, line)
			}
		default:
			fmt.Fprintln(os.Stderr, formatEvent(e))
		}
	}
}

func formatEvent(e eventlog.Event) string {
	var b strings.Builder
	b.WriteString("convoy: ")
	b.WriteString(string(e.Type))
	if e.Service != "" {
		fmt.Fprintf(&b, " %s", e.Service)
	}
	if e.Ref != "" {
		fmt.Fprintf(&b, " (%s)", e.Ref)
	}
	if e.Port != 0 {
		fmt.Fprintf(&b, " port=%d", e.Port)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, ": %s", e.Error)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}
