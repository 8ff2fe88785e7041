package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports brick run metrics.
type PrometheusCollector struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers it with reg.
// A nil reg leaves registration to the caller.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brickflow",
			Name:      "brick_runs_total",
			Help:      "Total brick runs by brick id and outcome",
		}, []string{"brick", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brickflow",
			Name:      "brick_run_duration_seconds",
			Help:      "Brick run duration",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"brick", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "brickflow",
			Name:      "brick_runs_in_flight",
			Help:      "Brick runs currently executing",
		}, []string{"brick"}),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{c.runs, c.duration, c.inFlight} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// RecordStart implements MetricsCollector.
func (c *PrometheusCollector) RecordStart(brickID string) {
	c.inFlight.WithLabelValues(brickID).Inc()
}

// RecordEnd implements MetricsCollector.
func (c *PrometheusCollector) RecordEnd(brickID, outcome string, d time.Duration) {
	c.inFlight.WithLabelValues(brickID).Dec()
	c.runs.WithLabelValues(brickID, outcome).Inc()
	c.duration.WithLabelValues(brickID, outcome).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.duration.Describe(ch)
	c.inFlight.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.duration.Collect(ch)
	c.inFlight.Collect(ch)
}
