// Package metrics provides Prometheus metrics for autoclose runs. A CLI
// process has no scrape endpoint, so metrics are exported through the node
// exporter's textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unit outcomes.
const (
	UnitWritten   = "written"
	UnitUnchanged = "unchanged"
	UnitDryRun    = "dry_run"
	UnitRemoved   = "removed"
)

// Run results.
const (
	RunOK          = "ok"
	RunDiagnostics = "diagnostics"
	RunFailed      = "failed"
)

// Collector holds all Prometheus metrics for autoclose.
type Collector struct {
	registry *prometheus.Registry

	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Pipeline metrics
	TypesProcessed  *prometheus.CounterVec
	Units           *prometheus.CounterVec
	Diagnostics     *prometheus.CounterVec
	ReleasableTypes prometheus.Gauge
}

// New creates a collector on a fresh registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a collector with every metric registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,

		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoclose",
				Name:      "runs_total",
				Help:      "Total number of generation runs by result",
			},
			[]string{"result"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "autoclose",
				Name:      "run_duration_seconds",
				Help:      "Generation run duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		TypesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoclose",
				Name:      "types_total",
				Help:      "Types processed, by whether they received a unit",
			},
			[]string{"eligible"},
		),
		Units: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoclose",
				Name:      "units_total",
				Help:      "Generated units by outcome",
			},
			[]string{"outcome"},
		),
		Diagnostics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoclose",
				Name:      "diagnostics_total",
				Help:      "Reported diagnostics by code and severity",
			},
			[]string{"code", "severity"},
		),
		ReleasableTypes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autoclose",
				Name:      "releasable_types",
				Help:      "Types with a release capability in the last capability closure",
			},
		),
	}
}

// Gatherer returns the registry the collector writes to.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// WriteTextfile writes every metric to path in the textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
