package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
)

const namespace = "poc"

// Collector turns unit transitions into Prometheus metrics. It satisfies
// the orchestrator's Observer interface and is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	unitsTotal     *prometheus.CounterVec
	unitsRunning   prometheus.Gauge
	unitDuration   *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	unloadedTotal  prometheus.Counter
	skippedTargets prometheus.Counter
}

// NewCollector creates a collector with its own registry so it never
// pollutes the global default registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		unitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Execution units that reached a terminal state",
			},
			[]string{"module", "status"},
		),
		unitsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_running",
			Help:      "Execution units currently running",
		}),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Wall time of execution units that ran check logic",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"module", "status"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed runs by mode and whether they were cancelled",
			},
			[]string{"mode", "cancelled"},
		),
		unloadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modules_unloaded_total",
			Help:      "Modules that failed to load or lacked a required capability",
		}),
		skippedTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_skipped_total",
			Help:      "Target lines skipped as blank, comment or invalid",
		}),
	}

	collectors := []prometheus.Collector{
		c.unitsTotal,
		c.unitsRunning,
		c.unitDuration,
		c.runsTotal,
		c.unloadedTotal,
		c.skippedTargets,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

// UnitStarted records a unit entering the running state.
func (c *Collector) UnitStarted(execution.Outcome) {
	c.unitsRunning.Inc()
}

// UnitFinished records a terminal unit.
func (c *Collector) UnitFinished(o execution.Outcome) {
	c.unitsTotal.WithLabelValues(o.ModuleID, string(o.Status)).Inc()
	// Units gated or cancelled before running never entered the gauge.
	if !o.StartedAt.IsZero() {
		c.unitsRunning.Dec()
		c.unitDuration.WithLabelValues(o.ModuleID, string(o.Status)).Observe(o.Duration.Seconds())
	}
}

// RunFinished records run-level counters from a finalized report.
func (c *Collector) RunFinished(r *execution.Report) {
	c.runsTotal.WithLabelValues(r.Mode.String(), strconv.FormatBool(r.Cancelled)).Inc()
	c.unloadedTotal.Add(float64(r.Summary.SkippedUnloaded))
	c.skippedTargets.Add(float64(r.Summary.SkippedTargets))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
