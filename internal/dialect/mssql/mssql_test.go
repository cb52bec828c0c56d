package mssql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"extractor/internal/ddl"
	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

func TestMapColumn(t *testing.T) {
	t.Parallel()

	tests := map[string]schema.Kind{
		"BIT":              schema.KindBool,
		"INT":              schema.KindInt,
		"REAL":             schema.KindDouble,
		"FLOAT":            schema.KindDouble,
		"MONEY":            schema.KindDecimal,
		"NVARCHAR":         schema.KindString,
		"DATE":             schema.KindDate,
		"DATETIME2":        schema.KindTimestamp,
		"VARBINARY":        schema.KindBytes,
		"UNIQUEIDENTIFIER": schema.KindUUID,
	}
	for typ, want := range tests {
		col, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "c", DatabaseType: typ, NullableKnown: true})
		require.NoError(t, err, typ)
		require.Equal(t, want, col.Kind, typ)
		require.False(t, col.Nullable, typ)
	}

	_, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "v", DatabaseType: "SQL_VARIANT"})
	require.ErrorContains(t, err, "SQL_VARIANT")
}

func TestUniqueIdentifierRoundTrip(t *testing.T) {
	t.Parallel()

	const id = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	col := schema.Column{Name: "id", Kind: schema.KindUUID}

	raw, ok := toCopyVal(schema.KindUUID, id).([]byte)
	require.True(t, ok)
	require.Len(t, raw, 16)
	// SQL Server stores the first three groups little-endian.
	require.Equal(t, byte(0x10), raw[0])

	require.Equal(t, id, Provider{}.NormalizeValue(col, raw))
	require.Equal(t, "x", Provider{}.NormalizeValue(schema.Column{Kind: schema.KindString}, "x"))
}

func TestStatements(t *testing.T) {
	t.Parallel()

	p := Provider{}
	tbl := dialect.Table{Schema: "dbo", Name: "o'brien"}

	require.Equal(t, "[weird]]id]", p.QuoteIdent("weird]id"))
	require.Equal(t, "IF OBJECT_ID(N'[dbo].[o''brien]', N'U') IS NOT NULL DROP TABLE [dbo].[o'brien];", p.DropTableSQL(tbl))
	require.Equal(t, "EXEC sp_rename N'[dbo].[o''brien]', N'final';", p.RenameTableSQL(tbl, "final"))
	require.Equal(t, "@p2", p.Placeholder(2))
	require.Equal(t, "NVARCHAR(MAX)", p.SQLType(typeguess.Decision{Kind: schema.KindString, Length: 5000}))
	require.Equal(t, "NVARCHAR(12)", p.SQLType(typeguess.Decision{Kind: schema.KindString, Length: 12}))

	got, err := p.BuildCreateTableSQL(dialect.Table{Schema: "dbo", Name: "t"}, []ddl.ColumnDef{
		{Name: "id", SQLType: "INT", PrimaryKey: true},
		{Name: "name", SQLType: "NVARCHAR(5)", Nullable: true},
	})
	require.NoError(t, err)
	require.Equal(t,
		"IF OBJECT_ID(N'[dbo].[t]', N'U') IS NULL\nBEGIN\n  CREATE TABLE [dbo].[t] (\n    [id] INT NOT NULL,\n    [name] NVARCHAR(5),\n    PRIMARY KEY ([id])\n  );\nEND;",
		got)
}

func TestOpenDBRejectsMalformedDSN(t *testing.T) {
	t.Parallel()

	_, err := Provider{}.OpenDB(context.Background(), "sqlserver://%zz")
	require.ErrorContains(t, err, "invalid DSN")
}
