package progress

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"extractor/internal/metrics"
)

type recorder struct {
	mu       sync.Mutex
	infos    []string
	warnings []string
	errs     []string
	progress []Measurement
}

func (r *recorder) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recorder) Warning(msg string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *recorder) Error(msg string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func (r *recorder) Progress(m Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, m)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf).Level(zerolog.DebugLevel))

	s.Warning("release failed", errors.New("conn reset"))
	s.Progress(Measurement{Task: "cohort", Rows: 20, Elapsed: 2 * time.Second})

	out := buf.String()
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, `"error":"conn reset"`)
	require.Contains(t, out, `"rows":20`)
	require.Contains(t, out, `"rps":10`)
}

func TestMultiSkipsNil(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	s := Multi(a, nil, b)
	s.Info("hi")
	s.Error("bad", nil)

	require.Equal(t, []string{"hi"}, a.infos)
	require.Equal(t, []string{"bad"}, b.errs)
}

func TestMeasurementRate(t *testing.T) {
	t.Parallel()

	require.Zero(t, Measurement{Rows: 5}.RowsPerSecond())
	require.InDelta(t, 2.5, Measurement{Rows: 5, Elapsed: 2 * time.Second}.RowsPerSecond(), 1e-9)
}

type countingBackend struct {
	mu   sync.Mutex
	rows map[string]float64
}

func (c *countingBackend) IncCounter(name string, delta float64, l metrics.Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == metrics.RowsTotal {
		c.rows[l["job"]] += delta
	}
}
func (c *countingBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (c *countingBackend) Flush() error                                     { return nil }

// TestMetricsSinkRecordsDeltas feeds cumulative counts and expects the
// metric to see the same total, not the sum of cumulative values.
func TestMetricsSinkRecordsDeltas(t *testing.T) {
	cb := &countingBackend{rows: map[string]float64{}}
	metrics.SetBackend(cb)

	s := &MetricsSink{Job: "refresh"}
	s.Progress(Measurement{Task: "src", Rows: 2})
	s.Progress(Measurement{Task: "src", Rows: 3})
	s.Progress(Measurement{Task: "src", Rows: 3})

	require.Equal(t, 3.0, cb.rows["refresh"])
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	require.Equal(t, Nop{}, OrNop(nil))
	r := &recorder{}
	require.Same(t, r, OrNop(r))
}
