package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/metrics"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// ColumnSpec names one join-table column. A nil Kind means the type is
// guessed from the values.
type ColumnSpec struct {
	Name string
	Kind *schema.Kind
}

// Declare returns a spec with a caller-declared kind.
func Declare(name string, kind schema.Kind) ColumnSpec {
	return ColumnSpec{Name: name, Kind: &kind}
}

// Untyped returns a spec whose kind is guessed.
func Untyped(name string) ColumnSpec { return ColumnSpec{Name: name} }

// CommitIdentifierList replaces the entry for fp with a one-column table
// named column holding every value of rows. Each row must have exactly one
// value. The column type is the narrowest type that fits every value.
func (s *Store) CommitIdentifierList(ctx context.Context, fp Fingerprint, rows schema.RowSource, column string) (Entry, error) {
	if column == "" {
		return Entry{}, errors.New("cache: identifier list column name must not be empty")
	}
	return s.commit(ctx, fp, ShapeIdentifierList, rows, []ColumnSpec{Untyped(column)}, s.cfg.CommandTimeout)
}

// CommitJoinTable replaces the entry for fp with a table of specs columns.
// Declared kinds are used as given; the rest are guessed. The whole commit
// runs under the join-table timeout.
func (s *Store) CommitJoinTable(ctx context.Context, fp Fingerprint, rows schema.RowSource, specs []ColumnSpec) (Entry, error) {
	if len(specs) == 0 {
		return Entry{}, errors.New("cache: join table needs at least one column")
	}
	return s.commit(ctx, fp, ShapeJoinTable, rows, specs, s.cfg.JoinTableTimeout)
}

// commit runs the protocol: writer slot, type scan, staging load, swap.
func (s *Store) commit(
	ctx context.Context,
	fp Fingerprint,
	shape Shape,
	rows schema.RowSource,
	specs []ColumnSpec,
	budget time.Duration,
) (e Entry, err error) {
	if !fp.Valid() {
		return Entry{}, fmt.Errorf("cache: fingerprint %q needs a kind and an id", fp.Key())
	}
	key := fp.Key()
	start := time.Now()
	defer func() {
		metrics.RecordStep("cache", "commit", err, time.Since(start))
		metrics.RecordCache("commit", metrics.Status(err))
		if err == nil {
			metrics.RecordRow("cache", "cached", e.Rows)
		}
	}()

	ctx, cancel := context.WithTimeoutCause(ctx, budget, failure.ErrTimeout)
	defer cancel()

	release, err := s.locks.acquire(ctx, key, func() { s.conflict(key) })
	if err != nil {
		return Entry{}, failure.Classify(ctx, fmt.Errorf("cache: commit %s: wait for writer: %w", key, err))
	}
	defer release()

	names := make([]string, len(specs))
	guesses := make(typeguess.Columns, len(specs))
	for i, sp := range specs {
		names[i] = sp.Name
		if sp.Kind != nil {
			guesses[i] = typeguess.Declared(*sp.Kind)
		} else {
			guesses[i] = typeguess.New()
		}
	}
	names = columnNames(names)

	var n int64
	err = rows.Each(ctx, func(row []any) error {
		n++
		if len(row) != len(specs) {
			return &failure.SchemaError{Row: int(n), Reason: fmt.Sprintf("row has %d values, want %d", len(row), len(specs))}
		}
		guesses.ObserveRow(row)
		return nil
	})
	if err != nil {
		return Entry{}, failure.Classify(ctx, fmt.Errorf("cache: commit %s: scan: %w", key, err))
	}
	decisions := guesses.Results()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Entry{}, failure.Classify(ctx, fmt.Errorf("cache: commit %s: connection: %w", key, err))
	}
	defer conn.Close()

	// No other writer touches key while the slot is held, so the previous
	// entry can be read outside the swap transaction.
	prev, had, err := s.entry(ctx, conn, key)
	if err != nil {
		return Entry{}, err
	}

	staging := dialect.Table{Schema: s.cfg.Schema, Name: stagingName(key)}
	final := dialect.Table{Schema: s.cfg.Schema, Name: TableName(key)}

	defs := make([]ddl.ColumnDef, len(decisions))
	sch := make(schema.Schema, len(decisions))
	for i, d := range decisions {
		defs[i] = ddl.ColumnDef{Name: names[i], SQLType: s.p.SQLType(d), Nullable: true}
		sch[i] = schema.Column{Name: names[i], Kind: d.Kind, Nullable: true, Length: d.Length, Precision: d.Precision, Scale: d.Scale}
	}
	create, err := s.p.BuildCreateTableSQL(staging, defs)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: commit %s: %w", key, err)
	}
	if _, err := dialect.PrepareCommand(conn, create, s.cfg.CommandTimeout).Exec(ctx); err != nil {
		return Entry{}, fmt.Errorf("cache: commit %s: create staging %s: %w", key, staging, err)
	}

	swapped := false
	defer func() {
		if swapped {
			return
		}
		// Clean up even when ctx is the reason we are here.
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommandTimeout)
		defer dcancel()
		if _, derr := conn.ExecContext(dctx, s.p.DropTableSQL(staging)); derr != nil {
			s.sink.Warning(fmt.Sprintf("cache: drop staging table %s", staging), derr)
		}
	}()

	loaded, err := s.load(ctx, conn, staging, sch, decisions, rows)
	if err != nil {
		return Entry{}, failure.Classify(ctx, fmt.Errorf("cache: commit %s: load: %w", key, err))
	}

	e = Entry{
		Key:          key,
		Table:        final,
		Shape:        shape,
		Description:  fp.Description,
		Columns:      len(specs),
		Rows:         loaded,
		LastModified: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.swap(ctx, conn, prev, had, staging, e); err != nil {
		return Entry{}, failure.Classify(ctx, fmt.Errorf("cache: commit %s: %w", key, err))
	}
	swapped = true

	if had && prev.Shape != shape {
		s.sink.Info(fmt.Sprintf("cache: %s replaced %s artifact with %s", key, prev.Shape, shape))
	}
	log.Info().
		Str("key", key).
		Str("shape", string(shape)).
		Str("table", final.String()).
		Int64("rows", loaded).
		Dur("elapsed", time.Since(start)).
		Msg("cache commit")
	return e, nil
}

// load casts every row to the decided kinds and bulk copies it into the
// staging table in batches.
func (s *Store) load(
	ctx context.Context,
	conn *sql.Conn,
	staging dialect.Table,
	sch schema.Schema,
	decisions []typeguess.Decision,
	rows schema.RowSource,
) (int64, error) {
	var (
		total int64
		n     int
	)
	batch := make([][]any, 0, min(s.cfg.BatchSize, 4096))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		copied, err := s.p.BulkCopy(ctx, conn, staging, sch, batch)
		if err != nil {
			return err
		}
		total += copied
		batch = batch[:0]
		return nil
	}

	err := rows.Each(ctx, func(row []any) error {
		n++
		if len(row) != len(sch) {
			return &failure.SchemaError{Row: n, Reason: fmt.Sprintf("row has %d values, want %d", len(row), len(sch))}
		}
		out := make([]any, len(row))
		for i, v := range row {
			cv, err := typeguess.Cast(decisions[i], v)
			if err != nil {
				return &failure.SchemaError{Column: sch[i].Name, Row: n, Reason: err.Error()}
			}
			out[i] = cv
		}
		batch = append(batch, out)
		if len(batch) >= s.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// swap makes staging the artifact for e.Key in one transaction: drop the
// previous artifact of either shape, rename staging, replace the lookup row.
// The lookup delete runs first so the transaction opens as a writer; SQLite
// refuses to wait when a reader upgrades under contention.
func (s *Store) swap(ctx context.Context, conn *sql.Conn, prev Entry, had bool, staging dialect.Table, e Entry) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin swap: %w", err)
	}
	if err := s.deleteLookup(ctx, tx, e.Key); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmts := []string{s.p.DropTableSQL(e.Table)}
	if had && prev.Table != e.Table {
		stmts = append(stmts, s.p.DropTableSQL(prev.Table))
	}
	stmts = append(stmts, s.p.RenameTableSQL(staging, e.Table.Name))
	for _, stmt := range stmts {
		if _, err := dialect.PrepareCommand(tx, stmt, s.cfg.CommandTimeout).Exec(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("swap: %w", err)
		}
	}
	if err := s.insertLookup(ctx, tx, e); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}
	return nil
}
