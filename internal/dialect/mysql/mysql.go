// Package mysql is the MySQL dialect provider on go-sql-driver/mysql.
//
// MySQL DDL is not transactional: RENAME TABLE and DROP TABLE commit
// implicitly, so a cache swap on MySQL is ordered but not atomic.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// maxVarchar keeps utf8mb4 VARCHAR columns under the 65535-byte row limit.
const maxVarchar = 16383

func init() {
	dialect.Register(Provider{}, "mariadb")
}

// Provider implements dialect.Provider for MySQL.
type Provider struct{}

var (
	_ dialect.Provider        = Provider{}
	_ dialect.ValueNormalizer = Provider{}
)

func (Provider) Name() string { return "mysql" }

// OpenDB parses dsn and forces parseTime so temporal columns arrive as
// time.Time.
func (Provider) OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: invalid DSN: %w", err)
	}
	cfg.ParseTime = true
	return dialect.Open(ctx, "mysql", cfg.FormatDSN())
}

func (Provider) MapColumn(ci dialect.ColumnInfo) (schema.Column, error) {
	t := strings.TrimPrefix(ci.DatabaseType, "UNSIGNED ")
	var k schema.Kind
	switch t {
	case "BIT":
		k = schema.KindBool
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		k = schema.KindInt
	case "FLOAT", "DOUBLE":
		k = schema.KindDouble
	case "DECIMAL":
		k = schema.KindDecimal
	case "CHAR", "VARCHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "JSON", "ENUM", "SET", "TIME":
		k = schema.KindString
	case "DATE":
		k = schema.KindDate
	case "DATETIME", "TIMESTAMP":
		k = schema.KindTimestamp
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		k = schema.KindBytes
	default:
		return schema.Column{}, dialect.Unmappable("mysql", ci)
	}
	return dialect.NewColumn(ci, k), nil
}

// NormalizeValue turns BIT(1) payloads into bools.
func (Provider) NormalizeValue(col schema.Column, v any) any {
	if col.Kind != schema.KindBool {
		return v
	}
	if b, ok := v.([]byte); ok && len(b) == 1 && b[0] <= 1 {
		return b[0] == 1
	}
	return v
}

func (Provider) SQLType(d typeguess.Decision) string {
	switch d.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		if d.IntBits == 32 {
			return "INT"
		}
		return "BIGINT"
	case schema.KindDouble:
		return "DOUBLE"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", d.Precision, d.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "DATETIME(6)"
	case schema.KindBytes:
		return "LONGBLOB"
	case schema.KindUUID:
		return "CHAR(36)"
	}
	if d.Length > 0 && d.Length <= maxVarchar {
		return fmt.Sprintf("VARCHAR(%d)", d.Length)
	}
	return "LONGTEXT"
}

// QuoteIdent backtick-quotes one identifier segment.
func (Provider) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (p Provider) QualifiedName(t dialect.Table) string {
	return ddl.QuoteFQN(t.String(), p.QuoteIdent)
}

func (p Provider) BuildCreateTableSQL(t dialect.Table, cols []ddl.ColumnDef) (string, error) {
	return ddl.Render(ddl.TableDef{FQN: t.String(), Columns: cols}, ddl.Style{
		Name:        "mysql ddl",
		QuoteIdent:  p.QuoteIdent,
		IfNotExists: true,
	})
}

func (p Provider) DropTableSQL(t dialect.Table) string {
	return "DROP TABLE IF EXISTS " + p.QualifiedName(t)
}

func (p Provider) RenameTableSQL(from dialect.Table, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s",
		p.QualifiedName(from), p.QualifiedName(dialect.Table{Schema: from.Schema, Name: to}))
}

func (Provider) Placeholder(int) string { return "?" }

func (p Provider) BulkCopy(ctx context.Context, conn *sql.Conn, t dialect.Table, cols schema.Schema, rows [][]any) (int64, error) {
	return dialect.InsertRows(ctx, p, conn, t, cols.Names(), rows, nil)
}
