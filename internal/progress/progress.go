// Package progress carries diagnostics and throughput measurements from
// sources, pipelines and the cache to whoever is watching a run.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"extractor/internal/metrics"
)

// Measurement is a cumulative throughput report for one task.
type Measurement struct {
	Task    string
	Rows    int64 // cumulative
	Elapsed time.Duration
}

// RowsPerSecond returns the average rate, or 0 before any time has passed.
func (m Measurement) RowsPerSecond() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.Rows) / m.Elapsed.Seconds()
}

// Sink receives diagnostics. Implementations must be safe for concurrent use.
type Sink interface {
	Info(msg string)
	Warning(msg string, err error)
	Error(msg string, err error)
	Progress(m Measurement)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(string)           {}
func (Nop) Warning(string, error) {}
func (Nop) Error(string, error)   {}
func (Nop) Progress(Measurement)  {}

// LogSink writes diagnostics to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

// NewLogSink returns a sink on l.
func NewLogSink(l zerolog.Logger) *LogSink { return &LogSink{Logger: l} }

func (s *LogSink) Info(msg string) { s.Logger.Info().Msg(msg) }

func (s *LogSink) Warning(msg string, err error) { s.Logger.Warn().Err(err).Msg(msg) }

func (s *LogSink) Error(msg string, err error) { s.Logger.Error().Err(err).Msg(msg) }

func (s *LogSink) Progress(m Measurement) {
	s.Logger.Debug().
		Str("task", m.Task).
		Int64("rows", m.Rows).
		Dur("elapsed", m.Elapsed).
		Int64("rps", int64(m.RowsPerSecond())).
		Msg("progress")
}

// MetricsSink turns row deltas between measurements into metrics.RecordRow
// calls under the "read" kind. Diagnostics are dropped.
type MetricsSink struct {
	Job string

	mu   sync.Mutex
	last map[string]int64
}

func (*MetricsSink) Info(string)           {}
func (*MetricsSink) Warning(string, error) {}
func (*MetricsSink) Error(string, error)   {}

func (s *MetricsSink) Progress(m Measurement) {
	s.mu.Lock()
	if s.last == nil {
		s.last = map[string]int64{}
	}
	delta := m.Rows - s.last[m.Task]
	s.last[m.Task] = m.Rows
	s.mu.Unlock()

	metrics.RecordRow(s.Job, "read", delta)
}

// Multi fans out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Info(msg string) {
	for _, s := range m {
		s.Info(msg)
	}
}

func (m multi) Warning(msg string, err error) {
	for _, s := range m {
		s.Warning(msg, err)
	}
}

func (m multi) Error(msg string, err error) {
	for _, s := range m {
		s.Error(msg, err)
	}
}

func (m multi) Progress(p Measurement) {
	for _, s := range m {
		s.Progress(p)
	}
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
