// Package metrics exposes cache activity as Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/tiercache/pkg/models"
)

// Request results recorded by Collector.Request.
const (
	ResultL1Hit = "l1_hit"
	ResultL2Hit = "l2_hit"
	ResultMiss  = "miss"
)

// Collector holds the cache metrics for one cache instance. A nil *Collector
// is valid and records nothing.
type Collector struct {
	requests    *prometheus.CounterVec
	sets        *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	promotions  *prometheus.CounterVec
	sizeBytes   *prometheus.GaugeVec
	entries     *prometheus.GaugeVec
	getDuration prometheus.Histogram
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Cache lookups by outcome",
			},
			[]string{"result"},
		),
		sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sets_total",
				Help:      "Cache writes by tier and outcome",
			},
			[]string{"tier", "result"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Entries removed from a tier by reason",
			},
			[]string{"tier", "reason"},
		),
		promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "L2 to L1 promotions by outcome",
			},
			[]string{"result"},
		),
		sizeBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "size_bytes",
				Help:      "Bytes currently accounted to each tier",
			},
			[]string{"tier"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries",
				Help:      "Entries currently held by each tier",
			},
			[]string{"tier"},
		),
		getDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "get_duration_seconds",
				Help:      "Latency of cache lookups",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.requests, c.sets, c.evictions, c.promotions, c.sizeBytes, c.entries, c.getDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register cache metrics: %w", err)
		}
	}
	return c, nil
}

// Request records a lookup outcome and its latency.
func (c *Collector) Request(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(result).Inc()
	c.getDuration.Observe(d.Seconds())
}

// Set records a write attempt against a tier.
func (c *Collector) Set(tier models.Level, ok bool) {
	if c == nil {
		return
	}
	result := "stored"
	if !ok {
		result = "rejected"
	}
	c.sets.WithLabelValues(string(tier), result).Inc()
}

// Evicted records entries leaving a tier.
func (c *Collector) Evicted(tier models.Level, reason models.EvictReason, n int) {
	if c == nil || n == 0 {
		return
	}
	c.evictions.WithLabelValues(string(tier), string(reason)).Add(float64(n))
}

// Promotion records an attempt to copy an L2 hit into L1.
func (c *Collector) Promotion(ok bool) {
	if c == nil {
		return
	}
	result := "promoted"
	if !ok {
		result = "failed"
	}
	c.promotions.WithLabelValues(result).Inc()
}

// ObserveTier updates the size and entry gauges from a stats snapshot.
func (c *Collector) ObserveTier(s models.TierStats) {
	if c == nil {
		return
	}
	c.sizeBytes.WithLabelValues(string(s.Level)).Set(float64(s.CurrentSizeBytes))
	c.entries.WithLabelValues(string(s.Level)).Set(float64(s.Entries))
}
