// Package mssql is the SQL Server dialect provider, built on go-mssqldb.
// Bulk loads use the TDS bulk-copy protocol (mssql.CopyIn).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

const (
	maxNVarchar  = 4000
	maxVarbinary = 8000
)

func init() {
	dialect.Register(Provider{}, "sqlserver")
}

// Provider implements dialect.Provider for SQL Server.
type Provider struct{}

var (
	_ dialect.Provider        = Provider{}
	_ dialect.ValueNormalizer = Provider{}
)

func (Provider) Name() string { return "mssql" }

// OpenDB validates dsn with msdsn before opening so that malformed
// connection strings fail without a network round trip.
func (Provider) OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql: invalid DSN: %w", err)
	}
	return dialect.Open(ctx, "sqlserver", dsn)
}

func (Provider) MapColumn(ci dialect.ColumnInfo) (schema.Column, error) {
	var k schema.Kind
	switch ci.DatabaseType {
	case "BIT":
		k = schema.KindBool
	case "TINYINT", "SMALLINT", "INT", "BIGINT":
		k = schema.KindInt
	case "REAL", "FLOAT":
		k = schema.KindDouble
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		k = schema.KindDecimal
	case "CHAR", "VARCHAR", "TEXT", "NCHAR", "NVARCHAR", "NTEXT", "XML":
		k = schema.KindString
	case "DATE":
		k = schema.KindDate
	case "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET", "TIME":
		k = schema.KindTimestamp
	case "BINARY", "VARBINARY", "IMAGE":
		k = schema.KindBytes
	case "UNIQUEIDENTIFIER":
		k = schema.KindUUID
	default:
		return schema.Column{}, dialect.Unmappable("mssql", ci)
	}
	return dialect.NewColumn(ci, k), nil
}

// NormalizeValue converts UNIQUEIDENTIFIER bytes, which the driver returns
// in SQL Server's mixed-endian layout, into canonical UUID text.
func (Provider) NormalizeValue(col schema.Column, v any) any {
	if col.Kind != schema.KindUUID {
		return v
	}
	b, ok := v.([]byte)
	if !ok || len(b) != 16 {
		return v
	}
	var u mssql.UniqueIdentifier
	if err := u.Scan(b); err != nil {
		return v
	}
	return uuid.UUID(u).String()
}

func (Provider) SQLType(d typeguess.Decision) string {
	switch d.Kind {
	case schema.KindBool:
		return "BIT"
	case schema.KindInt:
		if d.IntBits == 32 {
			return "INT"
		}
		return "BIGINT"
	case schema.KindDouble:
		return "FLOAT"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", d.Precision, d.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "DATETIME2"
	case schema.KindBytes:
		if d.Length > 0 && d.Length <= maxVarbinary {
			return fmt.Sprintf("VARBINARY(%d)", d.Length)
		}
		return "VARBINARY(MAX)"
	case schema.KindUUID:
		return "UNIQUEIDENTIFIER"
	}
	if d.Length > 0 && d.Length <= maxNVarchar {
		return fmt.Sprintf("NVARCHAR(%d)", d.Length)
	}
	return "NVARCHAR(MAX)"
}

// QuoteIdent brackets one identifier segment, escaping closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func (Provider) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (p Provider) QualifiedName(t dialect.Table) string {
	return ddl.QuoteFQN(t.String(), p.QuoteIdent)
}

// BuildCreateTableSQL wraps CREATE TABLE in an OBJECT_ID guard since T-SQL
// has no CREATE TABLE IF NOT EXISTS.
func (p Provider) BuildCreateTableSQL(t dialect.Table, cols []ddl.ColumnDef) (string, error) {
	return ddl.Render(ddl.TableDef{FQN: t.String(), Columns: cols}, ddl.Style{
		Name:       "mssql ddl",
		QuoteIdent: p.QuoteIdent,
		Guard: func(fqn, stmt string) string {
			return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL\nBEGIN\n  %s\nEND;", nstring(fqn), stmt)
		},
	})
}

func (p Provider) DropTableSQL(t dialect.Table) string {
	fqn := p.QualifiedName(t)
	return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NOT NULL DROP TABLE %s;", nstring(fqn), fqn)
}

func (p Provider) RenameTableSQL(from dialect.Table, to string) string {
	return fmt.Sprintf("EXEC sp_rename %s, %s;", nstring(p.QualifiedName(from)), nstring(to))
}

func (Provider) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// BulkCopy loads rows with mssql.CopyIn inside a transaction on conn.
func (p Provider) BulkCopy(ctx context.Context, conn *sql.Conn, t dialect.Table, cols schema.Schema, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(p.QualifiedName(t), mssql.BulkOptions{}, cols.Names()...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: prepare bulk: %w", err)
	}
	args := make([]any, len(cols))
	for i, row := range rows {
		for j, v := range row {
			args[j] = toCopyVal(cols[j].Kind, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return n, nil
}

// toCopyVal turns canonical UUID text into the driver's byte layout.
func toCopyVal(kind schema.Kind, v any) any {
	s, ok := v.(string)
	if !ok || kind != schema.KindUUID {
		return v
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return v
	}
	b, err := mssql.UniqueIdentifier(parsed).Value()
	if err != nil {
		return v
	}
	return b
}

// nstring renders s as an N'...' literal.
func nstring(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
