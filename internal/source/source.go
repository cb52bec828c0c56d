// Package source streams the result of one SQL statement in bounded chunks.
//
// An SQLSource owns its connection for the lifetime of one read. Column
// metadata is read once, before the first row, and every later row is
// validated against that fixed schema. End of stream is reported with
// ok=false, never as an error.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/progress"
	"extractor/internal/schema"
)

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 10000

// ErrClosed is returned by reads on a source closed before end of stream.
var ErrClosed = errors.New("source: closed")

// Config configures one streaming read.
type Config struct {
	DSN string
	SQL string

	// CommandTimeout bounds executing the statement and each chunk read
	// separately. Zero disables the budget.
	CommandTimeout time.Duration

	BatchSize int

	// AllowEmptyResultSets emits one empty chunk for a zero-row result so
	// consumers still see the schema.
	AllowEmptyResultSets bool

	// Task labels progress measurements and log lines.
	Task string
}

// SQLSource is a pull-based chunked reader over one statement. It is not
// safe for concurrent reads; Close may be called from any goroutine.
type SQLSource struct {
	cfg      Config
	provider dialect.Provider
	sink     progress.Sink

	db       *sql.DB
	conn     *sql.Conn
	rows     *sql.Rows
	queryCtx context.Context
	cancel   context.CancelCauseFunc

	schema  schema.Schema
	started time.Time
	read    int64
	chunks  int
	eof     bool

	mu     sync.Mutex
	closed bool
}

// New returns an unopened source. Nothing touches the database until Open
// or the first GetChunk.
func New(cfg Config, provider dialect.Provider, sink progress.Sink) *SQLSource {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Task == "" {
		cfg.Task = "source"
	}
	return &SQLSource{cfg: cfg, provider: provider, sink: progress.OrNop(sink)}
}

// RowsRead returns the cumulative number of rows returned so far.
func (s *SQLSource) RowsRead() int64 { return s.read }

// Schema returns the schema read by Open, or nil before it.
func (s *SQLSource) Schema() schema.Schema { return s.schema }

// Open connects, executes the statement and derives the schema. Calling it
// again returns the same schema.
func (s *SQLSource) Open(ctx context.Context) (schema.Schema, error) {
	if s.rows != nil || s.eof {
		return s.schema, nil
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.closeQuietly()
		return nil, failure.Classify(ctx, fmt.Errorf("%s: before open: %w", s.cfg.Task, err))
	}

	s.started = time.Now()
	s.sink.Info(fmt.Sprintf("%s: running SQL: %s", s.cfg.Task, s.cfg.SQL))

	db, err := s.provider.OpenDB(ctx, s.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.Task, err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, failure.Classify(ctx, fmt.Errorf("%s: acquire connection: %w", s.cfg.Task, err))
	}
	s.db, s.conn = db, conn

	// The cursor outlives any single call, so it runs under its own context
	// that each call links to the caller's context and the command timer.
	s.queryCtx, s.cancel = context.WithCancelCause(context.WithoutCancel(ctx))

	var rows *sql.Rows
	err = s.guard(ctx, func() error {
		var qerr error
		rows, qerr = conn.QueryContext(s.queryCtx, s.cfg.SQL)
		return qerr
	})
	if err != nil {
		s.closeQuietly()
		return nil, fmt.Errorf("%s: execute: %w", s.cfg.Task, err)
	}
	s.rows = rows

	sch, err := readSchema(s.provider, rows)
	if err != nil {
		s.closeQuietly()
		return nil, fmt.Errorf("%s: %w", s.cfg.Task, err)
	}
	s.schema = sch

	log.Debug().
		Str("task", s.cfg.Task).
		Strs("columns", sch.Names()).
		Msg("source opened")
	return sch, nil
}

// GetChunk returns up to BatchSize rows. ok is false at end of stream.
// Cancellation of ctx abandons the in-flight read, closes the source and
// returns an error matching failure.ErrCancelled, or failure.ErrTimeout when
// ctx ended with that cause. An exceeded command timeout also returns one
// matching failure.ErrTimeout.
func (s *SQLSource) GetChunk(ctx context.Context) (*schema.Chunk, bool, error) {
	if s.eof {
		return nil, false, nil
	}
	if s.isClosed() {
		return nil, false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.closeQuietly()
		s.report()
		return nil, false, failure.Classify(ctx, fmt.Errorf("%s: after %d rows: %w", s.cfg.Task, s.read, err))
	}
	if _, err := s.Open(ctx); err != nil {
		return nil, false, err
	}

	batch := make([][]any, 0, min(s.cfg.BatchSize, 4096))
	end := false
	err := s.guard(ctx, func() error {
		for len(batch) < s.cfg.BatchSize {
			if !s.rows.Next() {
				end = true
				return s.rows.Err()
			}
			row, err := scanRow(s.rows, len(s.schema))
			if err != nil {
				return err
			}
			dialect.Normalize(s.provider, s.schema, row)
			if err := s.schema.Conform(int(s.read)+len(batch)+1, row); err != nil {
				return err
			}
			batch = append(batch, row)
		}
		return nil
	})
	if err != nil {
		s.closeQuietly()
		s.report()
		return nil, false, fmt.Errorf("%s: read: %w", s.cfg.Task, err)
	}

	s.read += int64(len(batch))
	s.report()

	if end {
		s.eof = true
		if cerr := s.release(); cerr != nil {
			s.sink.Warning(fmt.Sprintf("%s: release after end of stream", s.cfg.Task), cerr)
		}
	}
	if len(batch) == 0 {
		if s.chunks == 0 && s.cfg.AllowEmptyResultSets {
			s.chunks++
			return &schema.Chunk{Schema: s.schema, Rows: [][]any{}}, true, nil
		}
		return nil, false, nil
	}
	s.chunks++
	return &schema.Chunk{Schema: s.schema, Rows: batch}, true, nil
}

// guard runs fn with the query context linked to ctx and the command timer,
// and maps an interrupted query onto the error taxonomy.
func (s *SQLSource) guard(ctx context.Context, fn func() error) error {
	stop := context.AfterFunc(ctx, func() { s.cancel(context.Cause(ctx)) })
	var timer *time.Timer
	if s.cfg.CommandTimeout > 0 {
		timer = time.AfterFunc(s.cfg.CommandTimeout, func() { s.cancel(failure.ErrTimeout) })
	}

	err := fn()

	stop()
	if timer != nil {
		timer.Stop()
	}
	if s.queryCtx.Err() == nil {
		return err
	}
	if ctx.Err() != nil {
		return failure.Classify(ctx, fmt.Errorf("%s: after %d rows: %w", s.cfg.Task, s.read, ctx.Err()))
	}
	if errors.Is(context.Cause(s.queryCtx), failure.ErrTimeout) {
		return fmt.Errorf("%w: %s exceeded %s", failure.ErrTimeout, s.cfg.Task, s.cfg.CommandTimeout)
	}
	return fmt.Errorf("%w: %s: after %d rows", failure.ErrCancelled, s.cfg.Task, s.read)
}

func (s *SQLSource) report() {
	if s.started.IsZero() {
		return
	}
	s.sink.Progress(progress.Measurement{
		Task:    s.cfg.Task,
		Rows:    s.read,
		Elapsed: time.Since(s.started),
	})
}

func (s *SQLSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the cursor and connection. It is idempotent and safe after
// an internal failure already closed the source.
func (s *SQLSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.release()
}

// closeQuietly closes and reports release failures as warnings.
func (s *SQLSource) closeQuietly() {
	if err := s.Close(); err != nil {
		s.sink.Warning(fmt.Sprintf("%s: release failed", s.cfg.Task), err)
	}
}

// release frees database resources without marking the source closed.
func (s *SQLSource) release() error {
	var errs []error
	if s.rows != nil {
		errs = append(errs, s.rows.Close())
		s.rows = nil
	}
	if s.cancel != nil {
		s.cancel(context.Canceled)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
		s.conn = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

// Dispose releases the source after a finished or failed run. A non-nil
// cause is recorded as a diagnostic.
func (s *SQLSource) Dispose(_ context.Context, cause error) error {
	if cause != nil {
		s.sink.Warning(fmt.Sprintf("%s: disposed after %d rows", s.cfg.Task, s.read), cause)
	}
	return s.Close()
}

// Abort releases the source after a cancelled run.
func (s *SQLSource) Abort(context.Context) error {
	s.sink.Info(fmt.Sprintf("%s: aborted after %d rows", s.cfg.Task, s.read))
	return s.Close()
}

// readSchema maps the cursor's column metadata through the provider.
func readSchema(p dialect.Provider, rows *sql.Rows) (schema.Schema, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column metadata: %w", err)
	}
	sch := make(schema.Schema, len(cts))
	for i, ct := range cts {
		col, err := p.MapColumn(dialect.InfoFromColumnType(ct))
		if err != nil {
			return nil, err
		}
		sch[i] = col
	}
	return sch, nil
}

// scanRow reads the current row as driver values.
func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return vals, nil
}
