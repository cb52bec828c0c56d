package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

func TestMapColumnAffinity(t *testing.T) {
	t.Parallel()

	tests := map[string]schema.Kind{
		"INTEGER":      schema.KindInt,
		"BIGINT":       schema.KindInt,
		"BOOLEAN":      schema.KindBool,
		"VARCHAR(20)":  schema.KindString,
		"TEXT":         schema.KindString,
		"BLOB":         schema.KindBytes,
		"REAL":         schema.KindDouble,
		"DOUBLE":       schema.KindDouble,
		"DECIMAL(6,3)": schema.KindDecimal,
		"NUMERIC":      schema.KindDecimal,
		"DATE":         schema.KindDate,
		"DATETIME":     schema.KindTimestamp,
		"TIMESTAMP":    schema.KindTimestamp,
		"UUID":         schema.KindUUID,
	}
	for typ, want := range tests {
		col, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "c", DatabaseType: typ})
		require.NoError(t, err, typ)
		require.Equal(t, want, col.Kind, typ)
	}
}

// TestMapColumnRejectsExpressions covers computed columns, which SQLite
// reports without a declared type.
func TestMapColumnRejectsExpressions(t *testing.T) {
	t.Parallel()

	_, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "count(*)"})
	require.ErrorIs(t, err, failure.ErrSchema)
	require.ErrorContains(t, err, "<undeclared>")
}

// TestSQLTypeReadsBack verifies every rendered type maps back to its kind.
func TestSQLTypeReadsBack(t *testing.T) {
	t.Parallel()

	p := Provider{}
	for _, d := range []typeguess.Decision{
		{Kind: schema.KindBool},
		{Kind: schema.KindInt, IntBits: 64},
		{Kind: schema.KindDouble},
		{Kind: schema.KindDecimal, Precision: 6, Scale: 3},
		{Kind: schema.KindString, Length: 5},
		{Kind: schema.KindString},
		{Kind: schema.KindDate},
		{Kind: schema.KindTimestamp},
		{Kind: schema.KindBytes},
		{Kind: schema.KindUUID},
	} {
		col, err := p.MapColumn(dialect.ColumnInfo{Name: "c", DatabaseType: p.SQLType(d)})
		require.NoError(t, err, d.Kind.String())
		require.Equal(t, d.Kind, col.Kind, p.SQLType(d))
	}
}

func TestBulkCopyRenameDrop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := Provider{}
	db, err := p.OpenDB(ctx, filepath.Join(t.TempDir(), "bulk.db"))
	require.NoError(t, err)
	defer db.Close()

	staging := dialect.Table{Name: "staging"}
	create, err := p.BuildCreateTableSQL(staging, []ddl.ColumnDef{
		{Name: "id", SQLType: "INTEGER"},
		{Name: "name", SQLType: "VARCHAR(5)", Nullable: true},
		{Name: "seen", SQLType: "TIMESTAMP", Nullable: true},
	})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, create)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	cols := schema.Schema{
		{Name: "id", Kind: schema.KindInt},
		{Name: "name", Kind: schema.KindString, Nullable: true},
		{Name: "seen", Kind: schema.KindTimestamp, Nullable: true},
	}
	seen := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	n, err := p.BulkCopy(ctx, conn, staging, cols, [][]any{
		{int64(1), "Alice", seen},
		{int64(2), nil, nil},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = db.ExecContext(ctx, p.RenameTableSQL(staging, "final"))
	require.NoError(t, err)

	var name string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name FROM "final" WHERE id = 1`).Scan(&name))
	require.Equal(t, "Alice", name)

	_, err = db.ExecContext(ctx, p.DropTableSQL(dialect.Table{Name: "final"}))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, p.DropTableSQL(dialect.Table{Name: "final"}))
	require.NoError(t, err, "drop of a missing table is a no-op")
}

func TestWithPragmas(t *testing.T) {
	require.Equal(t, "a.db?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)", withPragmas("a.db"))
	require.Equal(t, "file:a.db?mode=ro&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)", withPragmas("file:a.db?mode=ro"))
	require.Equal(t, "a.db?_pragma=busy_timeout(1)&_pragma=foreign_keys(0)", withPragmas("a.db?_pragma=busy_timeout(1)&_pragma=foreign_keys(0)"))
}
