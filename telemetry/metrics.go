// Package telemetry instruments the engine with Prometheus metrics:
// tick/step timings, settled-chunk counts and live component counts.
// Cardinality is kept bounded by design — no per-voxel or per-component
// labels — following the kick-game-stream pack repo's
// internal/api/observability.go promauto wrapper shape.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the fixed set of engine-wide gauges/histograms. Built once
// per process (or per registry, for tests) and threaded into the
// scheduler/component manager call sites that report timing.
type Metrics struct {
	TickDuration prometheus.Histogram
	StepDuration *prometheus.HistogramVec // label: step in {up, down, sideways}

	ActiveBlocks      prometheus.Gauge
	SettledChunks     prometheus.Counter
	VoxelsToComponent prometheus.Counter

	ActiveComponents   prometheus.Gauge
	ComponentMerges    prometheus.Counter
	ComponentRemovals  prometheus.Counter
	EqualizationPasses prometheus.Counter
}

// New registers every metric against reg. Passing a fresh
// prometheus.NewRegistry() in tests avoids the global default registry's
// "duplicate metrics collector registration" panic across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fluidsim",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one full simulation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluidsim",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of one kernel step, by step name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		ActiveBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluidsim",
			Name:      "active_blocks",
			Help:      "Number of blocks with unsettled chunks in the most recent tick.",
		}),
		SettledChunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluidsim",
			Name:      "settled_chunks_total",
			Help:      "Cumulative count of chunks that transitioned to settled.",
		}),
		VoxelsToComponent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluidsim",
			Name:      "voxels_handed_to_component_manager_total",
			Help:      "Cumulative count of just-settled-fluid voxels forwarded to the component manager's intake set.",
		}),
		ActiveComponents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluidsim",
			Name:      "active_components",
			Help:      "Number of live fluid components.",
		}),
		ComponentMerges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluidsim",
			Name:      "component_merges_total",
			Help:      "Cumulative count of component-with-component merges.",
		}),
		ComponentRemovals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluidsim",
			Name:      "component_removals_total",
			Help:      "Cumulative count of components removed for shrinking below the minimum size.",
		}),
		EqualizationPasses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fluidsim",
			Name:      "equalization_passes_total",
			Help:      "Cumulative count of outlet-equalization passes run.",
		}),
	}
}

// ObserveTick records one tick's total duration and per-step durations.
func (m *Metrics) ObserveTick(total time.Duration, stepNames []string, stepDurations []time.Duration, activeBlocks int) {
	m.TickDuration.Observe(total.Seconds())
	m.ActiveBlocks.Set(float64(activeBlocks))
	for i, name := range stepNames {
		if i >= len(stepDurations) {
			break
		}
		m.StepDuration.WithLabelValues(name).Observe(stepDurations[i].Seconds())
	}
}
