package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/progress"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// Mode selects what happens to an existing target table on commit.
type Mode string

const (
	// ModeCreate fails the commit when the target already exists.
	ModeCreate Mode = "create"
	// ModeReplace drops an existing target.
	ModeReplace Mode = "replace"
	// ModeAppend inserts into an existing target, creating it if absent.
	ModeAppend Mode = "append"
)

// ParseMode maps a config value onto a Mode. Empty means ModeCreate.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeCreate, nil
	case ModeCreate, ModeReplace, ModeAppend:
		return m, nil
	}
	return "", fmt.Errorf("unknown table mode %q (want create, replace or append)", s)
}

var (
	// ErrTableExists is returned by a ModeCreate commit onto an existing table.
	ErrTableExists = errors.New("storage: target table already exists")
	// ErrClosed is returned by Put after the destination was released.
	ErrClosed = errors.New("storage: destination closed")
)

const (
	defaultBatchSize      = 10000
	defaultCommandTimeout = 30 * time.Second
	defaultDecimalScale   = 10
)

// TableConfig configures a TableDestination.
type TableConfig struct {
	DSN   string
	Table dialect.Table
	Mode  Mode

	// BatchSize is the number of rows per bulk copy call.
	BatchSize int
	// CommandTimeout bounds each DDL statement and each bulk copy call.
	CommandTimeout time.Duration
	// NormalizeNames folds column names to portable identifiers.
	NormalizeNames bool
}

func (c TableConfig) withDefaults() TableConfig {
	if c.Mode == "" {
		c.Mode = ModeCreate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	return c
}

// TableDestination loads every delivered chunk into a staging table through
// a background LoadBatches loader. Dispose(ctx, nil) publishes the staging
// table as the target in one transaction; any other release drops it, so a
// failed or cancelled run leaves the target untouched.
type TableDestination struct {
	cfg  TableConfig
	p    dialect.Provider
	sink progress.Sink

	db      *sql.DB
	conn    *sql.Conn
	schema  schema.Schema
	staging dialect.Table

	rows    chan []any
	stop    context.CancelCauseFunc
	done    chan struct{}
	loaded  int64
	loadErr error

	once   sync.Once
	closed bool
}

// NewTableDestination returns a destination for cfg.Table. No connection is
// made until the first chunk arrives.
func NewTableDestination(cfg TableConfig, p dialect.Provider, sink progress.Sink) *TableDestination {
	return &TableDestination{cfg: cfg.withDefaults(), p: p, sink: progress.OrNop(sink)}
}

// Rows returns the number of rows published by a successful commit.
func (d *TableDestination) Rows() int64 { return d.loaded }

// Put hands c's rows to the loader. The first chunk fixes the column set;
// later chunks must carry the same columns.
func (d *TableDestination) Put(ctx context.Context, c *schema.Chunk) error {
	if d.closed {
		return ErrClosed
	}
	if d.rows == nil {
		if err := d.start(ctx, c.Schema); err != nil {
			return err
		}
	} else if err := sameColumns(d.schema, c.Schema); err != nil {
		return err
	}

	for _, row := range c.Rows {
		select {
		case d.rows <- row:
		case <-d.done:
			if d.loadErr != nil {
				return d.loadErr
			}
			return ErrClosed
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
	return nil
}

// start opens the connection, creates the staging table and launches the
// loader.
func (d *TableDestination) start(ctx context.Context, sch schema.Schema) error {
	if d.cfg.Table.Name == "" {
		return errors.New("storage: target table name must not be empty")
	}
	cols, err := d.columns(sch)
	if err != nil {
		return err
	}

	db, err := d.p.OpenDB(ctx, d.cfg.DSN)
	if err != nil {
		return err
	}
	d.db = db
	if d.conn, err = db.Conn(ctx); err != nil {
		return failure.Classify(ctx, fmt.Errorf("storage: connection: %w", err))
	}

	d.schema = cols
	d.staging = dialect.Table{Schema: d.cfg.Table.Schema, Name: "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]}
	defs := make([]ddl.ColumnDef, len(cols))
	for i, col := range cols {
		defs[i] = ddl.ColumnDef{Name: col.Name, SQLType: d.p.SQLType(decisionOf(col)), Nullable: true}
	}
	create, err := d.p.BuildCreateTableSQL(d.staging, defs)
	if err != nil {
		return err
	}
	if _, err := dialect.PrepareCommand(d.conn, create, d.cfg.CommandTimeout).Exec(ctx); err != nil {
		return fmt.Errorf("storage: create staging %s: %w", d.staging, err)
	}

	lctx, stop := context.WithCancelCause(context.WithoutCancel(ctx))
	d.stop = stop
	d.rows = make(chan []any, d.cfg.BatchSize)
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.loaded, d.loadErr = LoadBatches(lctx, "table:"+d.cfg.Table.String(), d.rows, d.cfg.BatchSize, d.copy)
	}()
	return nil
}

func (d *TableDestination) copy(ctx context.Context, rows [][]any) (int64, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.cfg.CommandTimeout, failure.ErrTimeout)
	defer cancel()
	n, err := d.p.BulkCopy(ctx, d.conn, d.staging, d.schema, rows)
	if err != nil {
		return n, failure.Classify(ctx, fmt.Errorf("storage: bulk copy into %s: %w", d.staging, err))
	}
	return n, nil
}

// columns derives the target column set from the first chunk's schema.
func (d *TableDestination) columns(sch schema.Schema) (schema.Schema, error) {
	if len(sch) == 0 {
		return nil, &failure.SchemaError{Row: -1, Reason: "result set has no columns"}
	}
	names := sch.Names()
	if d.cfg.NormalizeNames {
		names = ddl.UniqueNames(names)
	}
	seen := make(map[string]struct{}, len(names))
	out := make(schema.Schema, len(sch))
	for i, col := range sch {
		key := strings.ToLower(names[i])
		if _, dup := seen[key]; dup {
			return nil, &failure.SchemaError{Column: names[i], Row: -1, Reason: "duplicate column name; enable normalize_names or rename it"}
		}
		seen[key] = struct{}{}
		col.Name = names[i]
		out[i] = col
	}
	return out, nil
}

func sameColumns(want, got schema.Schema) error {
	if len(want) != len(got) {
		return &failure.SchemaError{Row: -1, Reason: fmt.Sprintf("chunk has %d columns, table has %d", len(got), len(want))}
	}
	for i := range want {
		if want[i].Kind != got[i].Kind {
			return &failure.SchemaError{Column: got[i].Name, Row: -1, Reason: fmt.Sprintf("kind changed from %s to %s", want[i].Kind, got[i].Kind)}
		}
	}
	return nil
}

// decisionOf turns a result column into the type decision the provider
// renders. Decimals without a reported size get the widest precision.
func decisionOf(col schema.Column) typeguess.Decision {
	d := typeguess.Decision{
		Kind:      col.Kind,
		Length:    col.Length,
		Precision: col.Precision,
		Scale:     col.Scale,
		IntBits:   64,
		Nullable:  true,
		Declared:  true,
	}
	if d.Kind == schema.KindDecimal && d.Precision == 0 {
		d.Precision, d.Scale = typeguess.MaxDecimalPrecision, defaultDecimalScale
	}
	return d
}

// Dispose with a nil cause waits for the loader and publishes the staging
// table; any other cause discards it.
func (d *TableDestination) Dispose(ctx context.Context, cause error) error {
	if cause != nil {
		return d.discard(ctx, cause)
	}
	err := errors.New("storage: destination already released")
	d.once.Do(func() { err = d.commit(ctx) })
	return err
}

// Abort discards everything loaded so far.
func (d *TableDestination) Abort(ctx context.Context) error {
	return d.discard(ctx, failure.ErrCancelled)
}

func (d *TableDestination) discard(ctx context.Context, cause error) error {
	err := errors.New("storage: destination already released")
	d.once.Do(func() {
		d.closed = true
		if d.rows == nil {
			err = d.closeDB()
			return
		}
		d.stop(cause)
		close(d.rows)
		<-d.done
		err = errors.Join(d.dropStaging(ctx), d.closeDB())
	})
	return err
}

func (d *TableDestination) commit(ctx context.Context) error {
	d.closed = true
	if d.rows == nil {
		d.sink.Info(fmt.Sprintf("storage: no chunks delivered; %s untouched", d.cfg.Table))
		return d.closeDB()
	}

	close(d.rows)
	select {
	case <-d.done:
	case <-ctx.Done():
		d.stop(context.Cause(ctx))
		<-d.done
	}
	if d.loadErr == nil && ctx.Err() != nil {
		d.loadErr = failure.Classify(ctx, context.Cause(ctx))
	}
	if d.loadErr != nil {
		return errors.Join(d.loadErr, d.dropStaging(ctx), d.closeDB())
	}

	start := time.Now()
	if err := d.publish(ctx); err != nil {
		return errors.Join(err, d.dropStaging(ctx), d.closeDB())
	}
	log.Info().
		Str("table", d.cfg.Table.String()).
		Str("mode", string(d.cfg.Mode)).
		Int64("rows", d.loaded).
		Dur("publish", time.Since(start)).
		Msg("table published")
	return d.closeDB()
}

// publish moves the staging rows into the target in one transaction. Each
// transaction opens with a write so SQLite takes the write lock up front.
func (d *TableDestination) publish(ctx context.Context) error {
	target := d.cfg.Table
	exists, err := d.exists(ctx, target)
	if err != nil {
		return err
	}

	var stmts []string
	switch {
	case d.cfg.Mode == ModeCreate && exists:
		return fmt.Errorf("%w: %s", ErrTableExists, target)
	case d.cfg.Mode == ModeReplace && exists:
		stmts = []string{d.p.DropTableSQL(target), d.p.RenameTableSQL(d.staging, target.Name)}
	case d.cfg.Mode == ModeAppend && exists:
		cols := make([]string, len(d.schema))
		for i, c := range d.schema {
			cols[i] = d.p.QuoteIdent(c.Name)
		}
		list := strings.Join(cols, ", ")
		stmts = []string{
			fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.p.QualifiedName(target), list, list, d.p.QualifiedName(d.staging)),
			d.p.DropTableSQL(d.staging),
		}
	default:
		stmts = []string{d.p.RenameTableSQL(d.staging, target.Name)}
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return failure.Classify(ctx, fmt.Errorf("storage: begin publish: %w", err))
	}
	for _, stmt := range stmts {
		if _, err := dialect.PrepareCommand(tx, stmt, d.cfg.CommandTimeout).Exec(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: publish %s: %w", target, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return failure.Classify(ctx, fmt.Errorf("storage: commit publish %s: %w", target, err))
	}
	d.staging = dialect.Table{}
	return nil
}

// exists probes t with a query that reads no rows.
func (d *TableDestination) exists(ctx context.Context, t dialect.Table) (bool, error) {
	probe := fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", d.p.QualifiedName(t))
	err := dialect.PrepareCommand(d.conn, probe, d.cfg.CommandTimeout).Query(ctx, func(*sql.Rows) error { return nil })
	if err == nil {
		return true, nil
	}
	if errors.Is(err, failure.ErrCancelled) || errors.Is(err, failure.ErrTimeout) {
		return false, err
	}
	return false, nil
}

func (d *TableDestination) dropStaging(ctx context.Context) error {
	if d.conn == nil || d.staging.Name == "" {
		return nil
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CommandTimeout)
	defer cancel()
	if _, err := d.conn.ExecContext(dctx, d.p.DropTableSQL(d.staging)); err != nil {
		d.sink.Warning(fmt.Sprintf("storage: drop staging table %s", d.staging), err)
		return fmt.Errorf("storage: drop staging %s: %w", d.staging, err)
	}
	d.staging = dialect.Table{}
	return nil
}

func (d *TableDestination) closeDB() error {
	var errs []error
	if d.conn != nil {
		errs = append(errs, d.conn.Close())
		d.conn = nil
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
		d.db = nil
	}
	return errors.Join(errs...)
}
