package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"extractor/internal/metrics"
)

func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readSummaryCount(t *testing.T, v *prometheus.SummaryVec, labels ...string) uint64 {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	return m.GetSummary().GetSampleCount()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", ""); err == nil {
		t.Fatalf("NewBackend without gateway URL: error = nil, want non-nil")
	}

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if b.jobName != "extract" {
		t.Fatalf("jobName = %q, want default %q", b.jobName, "extract")
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("extract", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StepTotal, 3, metrics.Labels{"step": "run", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.ChunksTotal, 2, nil)
	b.IncCounter(metrics.CacheOpsTotal, 1, metrics.Labels{"op": "commit", "outcome": "conflict"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	tests := []struct {
		name string
		c    prometheus.Counter
		want float64
	}{
		{"step", b.stepCounter.WithLabelValues("run", "success"), 3},
		{"rows", b.rowCounter.WithLabelValues("read"), 5},
		{"chunks", b.chunkCounter, 2},
		{"cache", b.cacheCounter.WithLabelValues("commit", "conflict"), 1},
	}
	for _, tt := range tests {
		if got := readCounterValue(t, tt.c); got != tt.want {
			t.Fatalf("%s counter = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIncCounterNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.ChunksTotal, 1, nil)
	b.IncCounter(metrics.CacheOpsTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("extract", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "commit", "status": "failure"})
	b.ObserveHistogram("other", 1, metrics.Labels{"step": "commit", "status": "failure"})

	if got := readSummaryCount(t, b.stepDuration, "commit", "failure"); got != 1 {
		t.Fatalf("summary count = %d, want 1", got)
	}
}

// TestFlush verifies Flush pushes the registry to the gateway over HTTP.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushed struct {
		path string
		body string
	}
	reqCh := make(chan pushed, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushed{path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("cohort-refresh", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "run", "status": "success"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	select {
	case got := <-reqCh:
		if !strings.Contains(got.path, "cohort-refresh") {
			t.Fatalf("push path = %q, want job name in path", got.path)
		}
		if got.body == "" {
			t.Fatalf("push body is empty")
		}
	default:
		t.Fatalf("Flush() did not reach the Pushgateway")
	}
}
