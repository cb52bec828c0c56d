// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Extraction runs are short-lived batch jobs, so metrics are
// pushed on Flush instead of being scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"extractor/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend. The job label is the
// Pushgateway grouping key, so collectors only carry the remaining labels.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // step, status
	stepDuration *prometheus.SummaryVec // step, status
	rowCounter   *prometheus.CounterVec // kind
	chunkCounter prometheus.Counter
	cacheCounter *prometheus.CounterVec // op, outcome
}

// NewBackend constructs a Pushgateway backend. An empty jobName defaults to
// "extract".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "extract"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Step executions partitioned by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Step duration in seconds partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by kind (read, delivered, dropped, cached).",
		}, []string{"kind"}),
		chunkCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ChunksTotal,
			Help: "Chunks pulled from the source.",
		}),
		cacheCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.CacheOpsTotal,
			Help: "Query result cache operations by op and outcome.",
		}, []string{"op", "outcome"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":  b.stepCounter,
		"step summary":  b.stepDuration,
		"row counter":   b.rowCounter,
		"chunk counter": b.chunkCounter,
		"cache counter": b.cacheCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.ChunksTotal:
		if b.chunkCounter != nil {
			b.chunkCounter.Add(delta)
		}
	case metrics.CacheOpsTotal:
		if b.cacheCounter != nil {
			b.cacheCounter.WithLabelValues(labels["op"], labels["outcome"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
