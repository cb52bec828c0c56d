// Package sqlite is the SQLite dialect provider on the pure-Go
// modernc.org/sqlite driver. SQLite has no bulk-load API, so BulkCopy is a
// prepared INSERT per row inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

func init() {
	dialect.Register(Provider{}, "sqlite3")
}

// Provider implements dialect.Provider for SQLite.
type Provider struct{}

var _ dialect.Provider = Provider{}

func (Provider) Name() string { return "sqlite" }

// BusyTimeoutMillis is how long a connection waits on a locked database
// before failing with SQLITE_BUSY.
var BusyTimeoutMillis = 10000

// OpenDB opens dsn (a path or file: URI). Every pooled connection gets a busy
// timeout and foreign keys through _pragma parameters, since pragmas are
// per connection.
func (Provider) OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return dialect.Open(ctx, "sqlite", dsn)
	}
	return dialect.Open(ctx, "sqlite", withPragmas(dsn))
}

func withPragmas(dsn string) string {
	var add []string
	lower := strings.ToLower(dsn)
	if !strings.Contains(lower, "busy_timeout") {
		add = append(add, fmt.Sprintf("_pragma=busy_timeout(%d)", BusyTimeoutMillis))
	}
	if !strings.Contains(lower, "foreign_keys") {
		add = append(add, "_pragma=foreign_keys(1)")
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

// MapColumn follows SQLite's declared-type affinity rules, refined so that
// DATE, TIMESTAMP, BOOLEAN and DECIMAL declarations keep their meaning.
// Expression columns have no declared type and cannot be mapped.
func (Provider) MapColumn(ci dialect.ColumnInfo) (schema.Column, error) {
	t := ci.DatabaseType
	var k schema.Kind
	switch {
	case t == "":
		return schema.Column{}, dialect.Unmappable("sqlite", ci)
	case strings.Contains(t, "BOOL"):
		k = schema.KindBool
	case strings.Contains(t, "INT"):
		k = schema.KindInt
	case strings.Contains(t, "UUID"), strings.Contains(t, "GUID"):
		k = schema.KindUUID
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		k = schema.KindTimestamp
	case strings.Contains(t, "DATE"):
		k = schema.KindDate
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		k = schema.KindString
	case strings.Contains(t, "BLOB"):
		k = schema.KindBytes
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		k = schema.KindDouble
	case strings.Contains(t, "DEC"), strings.Contains(t, "NUMERIC"):
		k = schema.KindDecimal
	default:
		return schema.Column{}, dialect.Unmappable("sqlite", ci)
	}
	return dialect.NewColumn(ci, k), nil
}

// SQLType renders declared types that MapColumn reads back to the same kind.
func (Provider) SQLType(d typeguess.Decision) string {
	switch d.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		return "INTEGER"
	case schema.KindDouble:
		return "REAL"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", d.Precision, d.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindBytes:
		return "BLOB"
	case schema.KindUUID:
		return "UUID"
	}
	if d.Length > 0 {
		return fmt.Sprintf("VARCHAR(%d)", d.Length)
	}
	return "TEXT"
}

func (Provider) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (p Provider) QualifiedName(t dialect.Table) string {
	return ddl.QuoteFQN(t.String(), p.QuoteIdent)
}

func (p Provider) BuildCreateTableSQL(t dialect.Table, cols []ddl.ColumnDef) (string, error) {
	return ddl.Render(ddl.TableDef{FQN: t.String(), Columns: cols}, ddl.Style{
		Name:        "sqlite ddl",
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

func (Provider) Placeholder(int) string { return "?" }

func (p Provider) BulkCopy(ctx context.Context, conn *sql.Conn, t dialect.Table, cols schema.Schema, rows [][]any) (int64, error) {
	return dialect.InsertRows(ctx, p, conn, t, cols.Names(), rows, nil)
}
