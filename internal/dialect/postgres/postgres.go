// Package postgres is the PostgreSQL dialect provider. Connections go through
// the pgx stdlib driver; bulk loads use COPY via the underlying pgx.Conn.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/stdlib"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// maxVarchar is the largest length VARCHAR(n) accepts.
const maxVarchar = 10485760

func init() {
	dialect.Register(Provider{}, "postgresql", "pgx")
}

// Provider implements dialect.Provider for PostgreSQL.
type Provider struct{}

var _ dialect.Provider = Provider{}

func (Provider) Name() string { return "postgres" }

// OpenDB opens a pool through the pgx stdlib driver.
func (Provider) OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	return dialect.Open(ctx, "pgx", dsn)
}

// MapColumn maps pgx type names (INT4, TIMESTAMPTZ, ...) onto kinds.
func (Provider) MapColumn(ci dialect.ColumnInfo) (schema.Column, error) {
	var k schema.Kind
	switch ci.DatabaseType {
	case "BOOL":
		k = schema.KindBool
	case "INT2", "INT4", "INT8", "OID":
		k = schema.KindInt
	case "FLOAT4", "FLOAT8":
		k = schema.KindDouble
	case "NUMERIC":
		k = schema.KindDecimal
	case "TEXT", "VARCHAR", "BPCHAR", "CHAR", "NAME", "JSON", "JSONB", "XML", "CITEXT":
		k = schema.KindString
	case "DATE":
		k = schema.KindDate
	case "TIMESTAMP", "TIMESTAMPTZ":
		k = schema.KindTimestamp
	case "BYTEA":
		k = schema.KindBytes
	case "UUID":
		k = schema.KindUUID
	default:
		return schema.Column{}, dialect.Unmappable("postgres", ci)
	}
	return dialect.NewColumn(ci, k), nil
}

// SQLType renders the narrowest PostgreSQL type for d.
func (Provider) SQLType(d typeguess.Decision) string {
	switch d.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		if d.IntBits == 32 {
			return "INTEGER"
		}
		return "BIGINT"
	case schema.KindDouble:
		return "DOUBLE PRECISION"
	case schema.KindDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", d.Precision, d.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindBytes:
		return "BYTEA"
	case schema.KindUUID:
		return "UUID"
	}
	if d.Length > 0 && d.Length <= maxVarchar {
		return fmt.Sprintf("VARCHAR(%d)", d.Length)
	}
	return "TEXT"
}

// QuoteIdent double-quotes one identifier segment, escaping embedded quotes.
func (Provider) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (p Provider) QualifiedName(t dialect.Table) string {
	return ddl.QuoteFQN(t.String(), p.QuoteIdent)
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS.
func (p Provider) BuildCreateTableSQL(t dialect.Table, cols []ddl.ColumnDef) (string, error) {
	return ddl.Render(ddl.TableDef{FQN: t.String(), Columns: cols}, ddl.Style{
		Name:        "postgres ddl",
		QuoteIdent:  p.QuoteIdent,
		IfNotExists: true,
	})
}

func (p Provider) DropTableSQL(t dialect.Table) string {
	return "DROP TABLE IF EXISTS " + p.QualifiedName(t)
}

func (p Provider) RenameTableSQL(from dialect.Table, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.QualifiedName(from), p.QuoteIdent(to))
}

func (Provider) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// BulkCopy streams rows with COPY FROM on the pgx connection behind conn.
func (Provider) BulkCopy(ctx context.Context, conn *sql.Conn, t dialect.Table, cols schema.Schema, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ident := pgx.Identifier{t.Name}
	if t.Schema != "" {
		ident = pgx.Identifier{t.Schema, t.Name}
	}
	vals := make([][]any, len(rows))
	for i, row := range rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = toCopyVal(cols[j].Kind, v)
		}
		vals[i] = out
	}

	var n int64
	err := conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("postgres: connection is %T, not a pgx stdlib conn", driverConn)
		}
		var err error
		n, err = sc.Conn().CopyFrom(ctx, ident, cols.Names(), pgx.CopyFromRows(vals))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("postgres: copy into %s: %s (%s): %w", t, pgErr.Detail, pgErr.SQLState(), err)
		}
		return 0, fmt.Errorf("postgres: copy into %s: %w", t, err)
	}
	return n, nil
}

// toCopyVal converts canonical values that the binary COPY encoder cannot
// take as-is: decimal text and UUID text.
func toCopyVal(kind schema.Kind, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch kind {
	case schema.KindDecimal:
		var n pgtype.Numeric
		if err := n.Scan(s); err == nil {
			return n
		}
	case schema.KindUUID:
		if u, err := uuid.Parse(s); err == nil {
			return [16]byte(u)
		}
	}
	return v
}
