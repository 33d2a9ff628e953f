// Package metrics exposes Prometheus instrumentation for unwrapping runs.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the run metrics registered on one registry.
type Collector struct {
	tiles        *prometheus.CounterVec
	tileDuration *prometheus.HistogramVec
	offsets      prometheus.Histogram
	seams        prometheus.Counter
	state        *prometheus.GaugeVec
}

// States lists every value reported by SetState.
var States = []string{"INIT", "COARSE_UNWRAPPED", "TILING", "STITCHED", "DONE", "FAILED"}

// NewCollector registers the run metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		tiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phasetiler_tiles_total",
			Help: "Number of processed tiles by outcome.",
		}, []string{"outcome"}),
		tileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phasetiler_tile_duration_seconds",
			Help:    "Time spent reading, unwrapping and writing one tile.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),
		offsets: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phasetiler_tile_offset_cycles",
			Help:    "Absolute cycle offset applied to tiles.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		seams: f.NewCounter(prometheus.CounterOpts{
			Name: "phasetiler_seam_violations_total",
			Help: "Tile seams whose phase jump exceeded the tolerance.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phasetiler_run_state",
			Help: "Current orchestrator state (1 for the active state).",
		}, []string{"state"}),
	}
}

// ObserveTile records one tile with its outcome label.
func (c *Collector) ObserveTile(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.tiles.WithLabelValues(outcome).Inc()
	c.tileDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveOffset records the cycle offset applied to a tile.
func (c *Collector) ObserveOffset(offset int) {
	if c == nil {
		return
	}
	if offset < 0 {
		offset = -offset
	}
	c.offsets.Observe(float64(offset))
}

// AddSeamViolations counts seams above tolerance.
func (c *Collector) AddSeamViolations(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.seams.Add(float64(n))
}

// SetState marks state as the active orchestrator state.
func (c *Collector) SetState(state string) {
	if c == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
}
