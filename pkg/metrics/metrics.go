package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every randooprun collector. It is separate from the
// default registry so a one-shot CLI run can dump exactly these series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// RunsTotal counts pipeline runs by outcome.
	RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randooprun",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of generation runs by outcome",
		},
		[]string{"package", "outcome"},
	)

	// RunDuration tracks how long the generator process ran.
	RunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "randooprun",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of the supervised generator process",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68m
		},
		[]string{"package", "outcome"},
	)

	// ClassesDiscovered records the size of the last discovery per package.
	ClassesDiscovered = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "randooprun",
			Subsystem: "discovery",
			Name:      "classes",
			Help:      "Classes passed to the generator in the last run",
		},
		[]string{"package"},
	)

	// DiscoveryWarnings counts classes skipped because they failed to load.
	DiscoveryWarnings = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randooprun",
			Subsystem: "discovery",
			Name:      "warnings_total",
			Help:      "Classes skipped because they could not be loaded",
		},
		[]string{"package"},
	)

	// RunsInFlight tracks concurrently supervised processes.
	RunsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "randooprun",
			Subsystem: "runs",
			Name:      "in_flight",
			Help:      "Number of generator processes currently running",
		},
	)

	// ProcessesKilled counts children terminated after a timeout.
	ProcessesKilled = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "randooprun",
			Subsystem: "runs",
			Name:      "killed_total",
			Help:      "Generator processes killed after exceeding their budget",
		},
	)

	// ScheduledTriggers counts cron firings in scheduler mode.
	ScheduledTriggers = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: "randooprun",
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Total number of scheduled generation rounds",
		},
	)
)

// RecordRun records metrics for a completed run.
func RecordRun(pkg, outcome string, durationSeconds float64, killed bool) {
	RunsTotal.WithLabelValues(pkg, outcome).Inc()
	RunDuration.WithLabelValues(pkg, outcome).Observe(durationSeconds)
	if killed {
		ProcessesKilled.Inc()
	}
}

// RecordDiscovery records the result size of one discovery.
func RecordDiscovery(pkg string, classes, warnings int) {
	ClassesDiscovered.WithLabelValues(pkg).Set(float64(classes))
	DiscoveryWarnings.WithLabelValues(pkg).Add(float64(warnings))
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
