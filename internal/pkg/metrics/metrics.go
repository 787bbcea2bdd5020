// Package metrics defines the Prometheus collectors of the verifier. They
// live in their own registry, served by the HTTP server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "j1939_verifier"

// Registry holds every verifier collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// OutcomesTotal counts emitted outcomes by kind (PASS, INFO, WARN, FAIL, ABORT).
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Total number of outcomes reported, by outcome.",
		},
		[]string{"outcome"},
	)

	// RunState is 1 for the state the current run is in and 0 otherwise.
	RunState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "Current run state (1 = active state).",
		},
		[]string{"state"},
	)

	// PacketsTotal counts bus frames seen by the bus service, by decode result.
	PacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of frames handled by the bus service, by result.",
		},
		[]string{"result"},
	)

	// RequestDuration observes how long request windows stay open.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of request response windows.",
			Buckets:   []float64{.05, .1, .2, .3, .5, .75, 1, 2, 5},
		},
		[]string{"kind"},
	)

	// ListenSeconds accumulates passive bus listening time.
	ListenSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_seconds_total",
			Help:      "Total seconds spent passively reading the bus.",
		},
	)

	// DroppedFrames counts frames the transport could not hand to a slow reader.
	DroppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_dropped_frames_total",
			Help:      "Frames dropped because a subscriber was not keeping up.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OutcomesTotal,
		RunState,
		PacketsTotal,
		RequestDuration,
		ListenSeconds,
		DroppedFrames,
	)
}

// SetRunState marks state as the active run state.
func SetRunState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		RunState.WithLabelValues(s).Set(v)
	}
}
