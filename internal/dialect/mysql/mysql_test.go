package mysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"extractor/internal/dialect"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

func TestMapColumn(t *testing.T) {
	t.Parallel()

	tests := map[string]schema.Kind{
		"BIT":             schema.KindBool,
		"UNSIGNED BIGINT": schema.KindInt,
		"TINYINT":         schema.KindInt,
		"DECIMAL":         schema.KindDecimal,
		"DOUBLE":          schema.KindDouble,
		"VARCHAR":         schema.KindString,
		"JSON":            schema.KindString,
		"DATE":            schema.KindDate,
		"DATETIME":        schema.KindTimestamp,
		"BLOB":            schema.KindBytes,
	}
	for typ, want := range tests {
		col, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "c", DatabaseType: typ})
		require.NoError(t, err, typ)
		require.Equal(t, want, col.Kind, typ)
	}

	_, err := Provider{}.MapColumn(dialect.ColumnInfo{Name: "g", DatabaseType: "GEOMETRY"})
	require.Error(t, err)
}

func TestNormalizeBit(t *testing.T) {
	t.Parallel()

	col := schema.Column{Kind: schema.KindBool}
	require.Equal(t, true, Provider{}.NormalizeValue(col, []byte{1}))
	require.Equal(t, false, Provider{}.NormalizeValue(col, []byte{0}))
	require.Equal(t, []byte("1"), Provider{}.NormalizeValue(schema.Column{Kind: schema.KindString}, []byte("1")))
}

func TestStatements(t *testing.T) {
	t.Parallel()

	p := Provider{}
	tbl := dialect.Table{Schema: "research", Name: "staging"}

	require.Equal(t, "`we``ird`", p.QuoteIdent("we`ird"))
	require.Equal(t, "RENAME TABLE `research`.`staging` TO `research`.`final`", p.RenameTableSQL(tbl, "final"))
	require.Equal(t, "DROP TABLE IF EXISTS `research`.`staging`", p.DropTableSQL(tbl))
	require.Equal(t, "?", p.Placeholder(7))
	require.Equal(t, "DATETIME(6)", p.SQLType(typeguess.Decision{Kind: schema.KindTimestamp}))
	require.Equal(t, "LONGTEXT", p.SQLType(typeguess.Decision{Kind: schema.KindString, Length: 20000}))
}

func TestOpenDBRejectsMalformedDSN(t *testing.T) {
	t.Parallel()

	_, err := Provider{}.OpenDB(context.Background(), "no-slash-here")
	require.ErrorContains(t, err, "invalid DSN")
}
