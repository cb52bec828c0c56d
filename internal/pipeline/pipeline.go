// Package pipeline drives one Source through an ordered chain of Transform
// stages into one Destination.
//
// A run is strictly sequential: the engine pulls a chunk, passes it through
// every transform in declared order and hands the result to the destination
// before pulling the next one, so chunks arrive in source order. The run
// ends in exactly one terminal state:
//
//	Completed  source exhausted, or a stop was requested
//	Failed     any stage returned an error; stages get Dispose(ctx, err)
//	Cancelled  the token was cancelled; stages get Abort(ctx)
//
// A successful run calls Dispose(ctx, nil) on both ends; destinations commit
// there. Engines are single use and never retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"extractor/internal/failure"
	"extractor/internal/metrics"
	"extractor/internal/progress"
	"extractor/internal/schema"
)

// ErrAlreadyRun is returned by Run on an engine that has left Idle.
var ErrAlreadyRun = errors.New("pipeline: engine already run")

// State is the engine lifecycle position.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool { return s >= Completed }

// Source produces chunks until ok is false.
type Source interface {
	GetChunk(ctx context.Context) (*schema.Chunk, bool, error)
	Dispose(ctx context.Context, cause error) error
	Abort(ctx context.Context) error
}

// Transform reshapes one chunk. It may return a nil chunk to drop it
// entirely, and stop=true to end the run after this chunk is delivered.
// Transforms must not reorder rows across chunks.
type Transform interface {
	Name() string
	Apply(ctx context.Context, c *schema.Chunk) (out *schema.Chunk, stop bool, err error)
}

// Destination consumes chunks. Put takes ownership of the chunk.
// Dispose(ctx, nil) is the commit point of a successful run.
type Destination interface {
	Put(ctx context.Context, c *schema.Chunk) error
	Dispose(ctx context.Context, cause error) error
	Abort(ctx context.Context) error
}

// Result summarises a run.
type Result struct {
	RunID        uuid.UUID
	State        State
	Chunks       int64 // delivered to the destination
	Rows         int64 // delivered to the destination
	Dropped      int64 // removed by transforms
	Elapsed      time.Duration
	StoppedEarly bool
}

// Engine runs one flow once.
type Engine struct {
	name       string
	src        Source
	transforms []Transform
	dst        Destination
	sink       progress.Sink

	state atomic.Int32
}

// New returns an idle engine. name labels logs and metrics.
func New(name string, src Source, transforms []Transform, dst Destination, sink progress.Sink) *Engine {
	if name == "" {
		name = "pipeline"
	}
	return &Engine{
		name:       name,
		src:        src,
		transforms: transforms,
		dst:        dst,
		sink:       progress.OrNop(sink),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Run drives the flow to a terminal state. A nil token means the run can
// only end by exhaustion or error. The returned error is nil only for
// Completed; a cancelled run returns an error matching failure.ErrCancelled
// and a parent ending with cause failure.ErrTimeout fails the run with an
// error matching failure.ErrTimeout.
func (e *Engine) Run(tok *Token) (Result, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Result{State: e.State()}, ErrAlreadyRun
	}
	if tok == nil {
		tok = NewToken(context.Background())
	}
	ctx := tok.Context()
	res := Result{RunID: uuid.New()}
	start := time.Now()

	logger := log.With().Str("pipeline", e.name).Str("run_id", res.RunID.String()).Logger()
	logger.Debug().Int("transforms", len(e.transforms)).Msg("run started")

	err := e.drive(ctx, tok, &res)
	if err != nil {
		err = failure.Classify(ctx, err)
	}

	// Release must run even though ctx may already be cancelled.
	relCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		e.release("source", func() error { return e.src.Dispose(relCtx, nil) })
		// The destination commits here, still under the run context so a
		// cancel reaches the commit I/O.
		if cerr := e.dst.Dispose(ctx, nil); cerr != nil {
			err = failure.Classify(ctx, fmt.Errorf("%s: commit: %w", e.name, cerr))
		}
		res.State = Completed
		if err != nil {
			res.State = Failed
			if failure.IsCancelled(err) {
				res.State = Cancelled
			}
		}
	case failure.IsCancelled(err):
		res.State = Cancelled
		e.release("source", func() error { return e.src.Abort(relCtx) })
		e.release("destination", func() error { return e.dst.Abort(relCtx) })
	default:
		res.State = Failed
		e.release("source", func() error { return e.src.Dispose(relCtx, err) })
		e.release("destination", func() error { return e.dst.Dispose(relCtx, err) })
	}

	res.Elapsed = time.Since(start)
	e.state.Store(int32(res.State))
	e.report(res, err)

	metrics.RecordStep(e.name, "run", err, res.Elapsed)
	metrics.RecordChunks(e.name, res.Chunks)
	metrics.RecordRow(e.name, "delivered", res.Rows)
	metrics.RecordRow(e.name, "dropped", res.Dropped)

	rps := 0.0
	if s := res.Elapsed.Seconds(); s > 0 {
		rps = float64(res.Rows) / s
	}
	logger.Info().
		Str("state", res.State.String()).
		Int64("chunks", res.Chunks).
		Int64("rows", res.Rows).
		Int64("dropped", res.Dropped).
		Int64("rps", int64(rps)).
		Bool("stopped_early", res.StoppedEarly).
		Dur("elapsed", res.Elapsed).
		Msg("run finished")

	return res, err
}

// drive pulls and delivers until exhaustion, stop or error.
func (e *Engine) drive(ctx context.Context, tok *Token, res *Result) error {
	for {
		if tok.Cancelled() {
			return fmt.Errorf("%w: %s: after %d chunks", failure.ErrCancelled, e.name, res.Chunks)
		}
		if tok.Expired() {
			return failure.Classify(ctx, fmt.Errorf("%s: after %d chunks: %w", e.name, res.Chunks, ctx.Err()))
		}
		if tok.Stopped() {
			res.StoppedEarly = true
			return nil
		}

		chunk, ok, err := e.src.GetChunk(ctx)
		if err != nil {
			return fmt.Errorf("%s: source: %w", e.name, err)
		}
		if !ok {
			return nil
		}

		in := chunk.Len()
		stop := false
		for _, t := range e.transforms {
			out, s, err := t.Apply(ctx, chunk)
			if err != nil {
				return fmt.Errorf("%s: transform %s: %w", e.name, t.Name(), err)
			}
			stop = stop || s
			chunk = out
			if chunk == nil {
				break
			}
		}
		res.Dropped += int64(in - chunk.Len())

		if chunk != nil {
			if err := e.dst.Put(ctx, chunk); err != nil {
				return fmt.Errorf("%s: destination: %w", e.name, err)
			}
			res.Chunks++
			res.Rows += int64(chunk.Len())
		}
		if stop {
			res.StoppedEarly = true
			return nil
		}
	}
}

// release runs a Dispose or Abort call. Its failure is a warning and never
// replaces the run's own error.
func (e *Engine) release(stage string, fn func() error) {
	if err := fn(); err != nil {
		e.sink.Warning(fmt.Sprintf("%s: releasing %s", e.name, stage), err)
		log.Warn().Err(err).Str("pipeline", e.name).Str("stage", stage).Msg("release failed")
	}
}

func (e *Engine) report(res Result, err error) {
	switch res.State {
	case Completed:
		e.sink.Info(fmt.Sprintf("%s: completed: %d rows in %d chunks", e.name, res.Rows, res.Chunks))
	case Cancelled:
		e.sink.Info(fmt.Sprintf("%s: cancelled after %d rows", e.name, res.Rows))
	case Failed:
		e.sink.Error(fmt.Sprintf("%s: failed after %d rows", e.name, res.Rows), err)
	}
}
