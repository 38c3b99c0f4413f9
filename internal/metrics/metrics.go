// Package metrics exposes supervisor counters and gauges via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the supervisor's metrics. Each supervisor owns its own Set and
// registry, so multiple supervisors can run in one host process without
// colliding on global collectors.
type Set struct {
	registry *prometheus.Registry

	// ServicesRunning is the number of currently tracked live services.
	ServicesRunning prometheus.Gauge

	// StartFailures counts start and readiness failures by service.
	StartFailures *prometheus.CounterVec

	// ForcedStops counts services that ignored the graceful stop and had
	// to be force-terminated.
	ForcedStops prometheus.Counter

	// ShutdownDuration observes how long full teardown took in seconds.
	ShutdownDuration prometheus.Histogram
}

// New creates and registers the supervisor metric set.
func New() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		ServicesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convoy_services_running",
			Help: "Number of currently running supervised services",
		}),
		StartFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convoy_start_failures_total",
			Help: "Total number of service start or readiness failures",
		}, []string{"service"}),
		ForcedStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convoy_forced_stops_total",
			Help: "Total number of services force-terminated after the grace period",
		}),
		ShutdownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "convoy_shutdown_duration_seconds",
			Help: "Time taken to tear down all services",
		}),
	}
	s.registry.MustRegister(s.ServicesRunning, s.StartFailures, s.ForcedStops, s.ShutdownDuration)
	return s
}

// Handler returns the HTTP handler serving this set.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background. Errors are reported via
// the returned channel; the listener stops when the process exits.
func (s *Set) Serve(addr string) <-chan error {
	errc := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	go func() {
		errc <- http.ListenAndServe(addr, mux)
	}()
	return errc
}
