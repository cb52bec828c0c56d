// Package metrics is a small, backend-agnostic abstraction for recording
// operational metrics from extraction runs and cache commits.
//
// A global Backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete systems live in subpackages (prompush, datadog) and are
// installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal           = "extract_step_total"
	StepDurationSeconds = "extract_step_duration_seconds"
	RowsTotal           = "extract_rows_total"
	ChunksTotal         = "extract_chunks_total"
	CacheOpsTotal       = "extract_cache_ops_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a named step (open, run, commit, ...)
// and records its latency, labelled by outcome.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": Status(err),
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments the row counter for job. Kinds in use:
//   - "read": rows pulled from the source
//   - "delivered": rows accepted by the destination
//   - "dropped": rows removed by transforms
//   - "cached": rows committed to a cache table
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunks increments the chunk counter for job.
func RecordChunks(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(ChunksTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordCache counts one cache operation (commit, reuse, invalidate, ...)
// with its outcome (hit, miss, stale, success, failure, conflict).
func RecordCache(op, outcome string) {
	current().IncCounter(CacheOpsTotal, 1, Labels{
		"op":      op,
		"outcome": outcome,
	})
}

// Status maps an error to the status label value.
func Status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
