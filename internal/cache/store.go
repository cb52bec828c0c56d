// Package cache memoizes materialized query results in a dedicated
// database, one table per fingerprint, with a lookup table that records
// which artifact belongs to which fingerprint and what description it was
// built from.
//
// A commit loads into a staging table and swaps it in with one
// transaction, so readers see either the previous entry or the new one and
// never a partial table. Commits for one key are serialized; commits for
// different keys run concurrently.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/metrics"
	"extractor/internal/progress"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// Defaults applied by Open.
const (
	DefaultLookupTable      = "cached_results"
	DefaultCommandTimeout   = 30 * time.Second
	DefaultJoinTableTimeout = 6 * time.Hour
	DefaultBatchSize        = 10000
)

// Shape is the kind of artifact held for a fingerprint.
type Shape string

const (
	ShapeIdentifierList Shape = "identifiers"
	ShapeJoinTable      Shape = "join"
)

// Config configures a Store.
type Config struct {
	DSN string

	// Schema qualifies the lookup and artifact tables. Empty uses the
	// connection default.
	Schema      string
	LookupTable string

	// CommandTimeout bounds lookup statements and identifier-list commits.
	CommandTimeout time.Duration

	// JoinTableTimeout bounds a whole join-table commit.
	JoinTableTimeout time.Duration

	// BatchSize is the number of rows per bulk copy.
	BatchSize int

	// SpillDir holds destination spill files; empty means os.TempDir.
	SpillDir string
}

func (c *Config) applyDefaults() {
	if c.LookupTable == "" {
		c.LookupTable = DefaultLookupTable
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.JoinTableTimeout <= 0 {
		c.JoinTableTimeout = DefaultJoinTableTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Entry describes one committed artifact.
type Entry struct {
	Key          string
	Table        dialect.Table
	Shape        Shape
	Description  string
	Columns      int
	Rows         int64
	LastModified time.Time
}

// Store is the cache. It is safe for concurrent use.
type Store struct {
	cfg    Config
	p      dialect.Provider
	db     *sql.DB
	sink   progress.Sink
	lookup dialect.Table
	locks  keyLocks
}

// Open connects to the cache database and creates the lookup table when
// it does not exist.
func Open(ctx context.Context, cfg Config, p dialect.Provider, sink progress.Sink) (*Store, error) {
	cfg.applyDefaults()
	db, err := p.OpenDB(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s := &Store{
		cfg:    cfg,
		p:      p,
		db:     db,
		sink:   progress.OrNop(sink),
		lookup: dialect.Table{Schema: cfg.Schema, Name: cfg.LookupTable},
	}
	if err := s.ensureLookup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().
		Str("provider", p.Name()).
		Str("lookup", s.lookup.String()).
		Msg("cache opened")
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for reading artifacts back.
func (s *Store) DB() *sql.DB { return s.db }

// Provider returns the dialect of the cache database.
func (s *Store) Provider() dialect.Provider { return s.p }

func (s *Store) ensureLookup(ctx context.Context) error {
	str := func(n int64) string {
		return s.p.SQLType(typeguess.Decision{Kind: schema.KindString, Length: n})
	}
	cols := []ddl.ColumnDef{
		{Name: "fingerprint_key", SQLType: str(200), PrimaryKey: true},
		{Name: "table_name", SQLType: str(128)},
		{Name: "shape", SQLType: str(16)},
		{Name: "description", SQLType: str(0)},
		{Name: "column_count", SQLType: s.p.SQLType(typeguess.Decision{Kind: schema.KindInt, IntBits: 32})},
		{Name: "row_count", SQLType: s.p.SQLType(typeguess.Decision{Kind: schema.KindInt, IntBits: 64})},
		{Name: "last_modified", SQLType: s.p.SQLType(typeguess.Decision{Kind: schema.KindTimestamp})},
	}
	stmt, err := s.p.BuildCreateTableSQL(s.lookup, cols)
	if err != nil {
		return fmt.Errorf("cache: lookup ddl: %w", err)
	}
	if _, err := dialect.PrepareCommand(s.db, stmt, s.cfg.CommandTimeout).Exec(ctx); err != nil {
		return fmt.Errorf("cache: create lookup table %s: %w", s.lookup, err)
	}
	return nil
}

const entryColumns = "fingerprint_key, table_name, shape, description, column_count, row_count, last_modified"

func (s *Store) scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e     Entry
		table string
		shape string
		cols  int64
	)
	if err := rows.Scan(&e.Key, &table, &shape, &e.Description, &cols, &e.Rows, &e.LastModified); err != nil {
		return Entry{}, fmt.Errorf("cache: scan lookup row: %w", err)
	}
	e.Table = dialect.Table{Schema: s.cfg.Schema, Name: table}
	e.Shape = Shape(shape)
	e.Columns = int(cols)
	return e, nil
}

// entry reads the lookup row for key through q.
func (s *Store) entry(ctx context.Context, q dialect.Querier, key string) (Entry, bool, error) {
	text := fmt.Sprintf("SELECT %s FROM %s WHERE fingerprint_key = %s",
		entryColumns, s.p.QualifiedName(s.lookup), s.p.Placeholder(1))
	var (
		e     Entry
		found bool
	)
	err := dialect.PrepareCommand(q, text, s.cfg.CommandTimeout).Query(ctx, func(rows *sql.Rows) error {
		var err error
		e, err = s.scanEntry(rows)
		found = err == nil
		return err
	}, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: lookup %s: %w", key, err)
	}
	return e, found, nil
}

// Lookup returns the committed entry for key.
func (s *Store) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	return s.entry(ctx, s.db, key)
}

// HasCachedResult reports whether a committed entry exists for key,
// regardless of staleness.
func (s *Store) HasCachedResult(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.entry(ctx, s.db, key)
	return ok, err
}

// IsStale reports whether the entry for fp.Key() was built from a
// description other than fp.Description. A missing entry is stale.
func (s *Store) IsStale(ctx context.Context, fp Fingerprint) (bool, error) {
	e, ok, err := s.entry(ctx, s.db, fp.Key())
	if err != nil {
		return false, err
	}
	return !ok || Stale(fp.Description, e.Description), nil
}

// Reuse returns the entry for fp when it is fresh. A missing entry returns
// an error matching failure.ErrNotCached and a stale one a
// *failure.StaleDefinitionError; stale data is never served.
func (s *Store) Reuse(ctx context.Context, fp Fingerprint) (Entry, error) {
	e, ok, err := s.entry(ctx, s.db, fp.Key())
	switch {
	case err != nil:
		metrics.RecordCache("reuse", "failure")
		return Entry{}, err
	case !ok:
		metrics.RecordCache("reuse", "miss")
		return Entry{}, fmt.Errorf("%w: %s", failure.ErrNotCached, fp.Key())
	case Stale(fp.Description, e.Description):
		metrics.RecordCache("reuse", "stale")
		return Entry{}, &failure.StaleDefinitionError{Key: e.Key, Stored: e.Description, Current: fp.Description}
	}
	metrics.RecordCache("reuse", "hit")
	return e, nil
}

// Entries lists every committed entry ordered by key.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	text := fmt.Sprintf("SELECT %s FROM %s ORDER BY fingerprint_key", entryColumns, s.p.QualifiedName(s.lookup))
	var out []Entry
	err := dialect.PrepareCommand(s.db, text, s.cfg.CommandTimeout).Query(ctx, func(rows *sql.Rows) error {
		e, err := s.scanEntry(rows)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: list entries: %w", err)
	}
	return out, nil
}

// SelectSQL returns a statement that reads e's artifact back.
func (s *Store) SelectSQL(e Entry) string {
	return "SELECT * FROM " + s.p.QualifiedName(e.Table)
}

// Invalidate drops the artifact and lookup row for key. Invalidating a key
// with no entry is not an error.
func (s *Store) Invalidate(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCache("invalidate", metrics.Status(err))
		metrics.RecordStep("cache", "invalidate", err, time.Since(start))
	}()

	release, err := s.locks.acquire(ctx, key, func() { s.conflict(key) })
	if err != nil {
		return failure.Classify(ctx, fmt.Errorf("cache: invalidate %s: wait for writer: %w", key, err))
	}
	defer release()

	prev, had, err := s.entry(ctx, s.db, key)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure.Classify(ctx, fmt.Errorf("cache: invalidate %s: begin: %w", key, err))
	}
	if err := s.deleteLookup(ctx, tx, key); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmts := []string{s.p.DropTableSQL(dialect.Table{Schema: s.cfg.Schema, Name: TableName(key)})}
	if had && prev.Table.Name != TableName(key) {
		stmts = append(stmts, s.p.DropTableSQL(prev.Table))
	}
	for _, stmt := range stmts {
		if _, err := dialect.PrepareCommand(tx, stmt, s.cfg.CommandTimeout).Exec(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cache: invalidate %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return failure.Classify(ctx, fmt.Errorf("cache: invalidate %s: commit: %w", key, err))
	}

	if had {
		s.sink.Info(fmt.Sprintf("cache: invalidated %s (%s)", key, prev.Table))
	}
	log.Info().Str("key", key).Bool("existed", had).Msg("cache invalidated")
	return nil
}

func (s *Store) deleteLookup(ctx context.Context, q dialect.Querier, key string) error {
	text := fmt.Sprintf("DELETE FROM %s WHERE fingerprint_key = %s", s.p.QualifiedName(s.lookup), s.p.Placeholder(1))
	if _, err := dialect.PrepareCommand(q, text, s.cfg.CommandTimeout).Exec(ctx, key); err != nil {
		return fmt.Errorf("cache: delete lookup row %s: %w", key, err)
	}
	return nil
}

func (s *Store) insertLookup(ctx context.Context, q dialect.Querier, e Entry) error {
	marks := make([]string, 7)
	for i := range marks {
		marks[i] = s.p.Placeholder(i + 1)
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.p.QualifiedName(s.lookup), entryColumns, strings.Join(marks, ", "))
	_, err := dialect.PrepareCommand(q, text, s.cfg.CommandTimeout).Exec(ctx,
		e.Key, e.Table.Name, string(e.Shape), e.Description, int64(e.Columns), e.Rows, e.LastModified)
	if err != nil {
		return fmt.Errorf("cache: insert lookup row %s: %w", e.Key, err)
	}
	return nil
}

// conflict reports a writer that had to wait behind another one.
func (s *Store) conflict(key string) {
	err := fmt.Errorf("%w: %s: waited for the writer in progress", failure.ErrCacheWriteConflict, key)
	s.sink.Warning("cache: concurrent write serialized", err)
	metrics.RecordCache("commit", "conflict")
	log.Warn().Err(err).Str("key", key).Msg("cache write conflict")
}
