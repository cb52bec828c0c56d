// Package dialect describes a relational backend: how to open it, how its
// column types map onto schema kinds, and the handful of DDL and bulk-load
// statements the cache and table destinations need. Statement text for
// extraction queries is always supplied by the caller.
//
// Providers register themselves in init(); import dialect/all to link every
// bundled provider.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"extractor/internal/ddl"
	"extractor/internal/failure"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// ColumnInfo is the driver-reported metadata for one result column.
type ColumnInfo struct {
	Name          string
	DatabaseType  string // upper case, as reported by the driver
	Nullable      bool
	NullableKnown bool
	Length        int64
	HasLength     bool
	Precision     int64
	Scale         int64
	HasDecimal    bool
}

// InfoFromColumnType copies database/sql column metadata into a ColumnInfo.
func InfoFromColumnType(ct *sql.ColumnType) ColumnInfo {
	ci := ColumnInfo{
		Name:         ct.Name(),
		DatabaseType: strings.ToUpper(strings.TrimSpace(ct.DatabaseTypeName())),
	}
	ci.Nullable, ci.NullableKnown = ct.Nullable()
	ci.Length, ci.HasLength = ct.Length()
	ci.Precision, ci.Scale, ci.HasDecimal = ct.DecimalSize()
	return ci
}

// Table names a table by optional schema and bare name.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Provider is one relational backend.
type Provider interface {
	// Name is the registry key, e.g. "postgres".
	Name() string

	// OpenDB opens and pings a connection pool for dsn.
	OpenDB(ctx context.Context, dsn string) (*sql.DB, error)

	// MapColumn maps driver metadata onto a schema column. Types the
	// provider cannot represent return a *failure.SchemaError.
	MapColumn(ci ColumnInfo) (schema.Column, error)

	// SQLType renders the narrowest column type that holds d.
	SQLType(d typeguess.Decision) string

	QuoteIdent(name string) string
	QualifiedName(t Table) string

	// BuildCreateTableSQL renders an idempotent CREATE TABLE for t.
	BuildCreateTableSQL(t Table, cols []ddl.ColumnDef) (string, error)

	// DropTableSQL drops t if it exists.
	DropTableSQL(t Table) string

	// RenameTableSQL renames from to a bare name in the same schema.
	RenameTableSQL(from Table, to string) string

	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder(n int) string

	// BulkCopy loads rows into t using the backend's fastest path. Values
	// are in the canonical Go types of cols.
	BulkCopy(ctx context.Context, conn *sql.Conn, t Table, cols schema.Schema, rows [][]any) (int64, error)
}

// ValueNormalizer is implemented by providers whose driver hands back values
// that need a fix-up before kind coercion, such as SQL Server GUID byte order.
type ValueNormalizer interface {
	NormalizeValue(col schema.Column, v any) any
}

// Normalize applies p's ValueNormalizer to row in place, if p has one.
func Normalize(p Provider, cols schema.Schema, row []any) {
	n, ok := p.(ValueNormalizer)
	if !ok {
		return
	}
	for i := range row {
		if row[i] != nil && i < len(cols) {
			row[i] = n.NormalizeValue(cols[i], row[i])
		}
	}
}

// PingTimeout bounds the initial ping done by Open.
var PingTimeout = 5 * time.Second

// Open opens driverName with dsn and pings it. The pool is closed on
// failure. Providers call this from OpenDB.
func Open(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driverName, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", driverName, err)
	}
	return db, nil
}

// NewColumn builds the schema column for ci with the given kind. Columns
// whose nullability the driver cannot report are treated as nullable, and
// lengths at the driver's "unbounded" sentinel are dropped.
func NewColumn(ci ColumnInfo, kind schema.Kind) schema.Column {
	col := schema.Column{
		Name:         ci.Name,
		Kind:         kind,
		Nullable:     ci.Nullable || !ci.NullableKnown,
		ProviderType: ci.DatabaseType,
	}
	if ci.HasLength && ci.Length > 0 && ci.Length < math.MaxInt32 {
		col.Length = ci.Length
	}
	if kind == schema.KindDecimal && ci.HasDecimal {
		col.Precision, col.Scale = ci.Precision, ci.Scale
	}
	return col
}

// Unmappable reports a provider type with no schema kind.
func Unmappable(provider string, ci ColumnInfo) error {
	typ := ci.DatabaseType
	if typ == "" {
		typ = "<undeclared>"
	}
	return &failure.SchemaError{
		Column: ci.Name,
		Row:    -1,
		Reason: fmt.Sprintf("%s type %s has no mapping", provider, typ),
	}
}
