package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var bracket = func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }

var dquote = func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func TestRenderStyles(t *testing.T) {
	t.Parallel()

	def := TableDef{
		FQN: "dbo.cache_x",
		Columns: []ColumnDef{
			{Name: "id", SQLType: "INT", PrimaryKey: true},
			{Name: "na]me", SQLType: "NVARCHAR(5)", Nullable: true},
			{Name: "loaded_at", SQLType: "TIMESTAMP", Default: "CURRENT_TIMESTAMP"},
		},
	}

	tests := []struct {
		name  string
		style Style
		want  string
	}{
		{
			name:  "zero style is verbatim",
			style: Style{},
			want:  "CREATE TABLE dbo.cache_x (\n  id INT NOT NULL,\n  na]me NVARCHAR(5),\n  loaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n  PRIMARY KEY (id)\n);",
		},
		{
			name:  "if not exists with double quotes",
			style: Style{QuoteIdent: dquote, IfNotExists: true},
			want:  "CREATE TABLE IF NOT EXISTS \"dbo\".\"cache_x\" (\n  \"id\" INT NOT NULL,\n  \"na]me\" NVARCHAR(5),\n  \"loaded_at\" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n  PRIMARY KEY (\"id\")\n);",
		},
		{
			name: "guarded with brackets",
			style: Style{QuoteIdent: bracket, Guard: func(fqn, stmt string) string {
				return "IF OBJECT_ID(N'" + fqn + "', N'U') IS NULL\nBEGIN\n  " + stmt + "\nEND;"
			}},
			want: "IF OBJECT_ID(N'[dbo].[cache_x]', N'U') IS NULL\nBEGIN\n  CREATE TABLE [dbo].[cache_x] (\n    [id] INT NOT NULL,\n    [na]]me] NVARCHAR(5),\n    [loaded_at] TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,\n    PRIMARY KEY ([id])\n  );\nEND;",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Render(def, tt.style)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRenderCompositeKey(t *testing.T) {
	t.Parallel()

	got, err := Render(TableDef{
		FQN: "lookup",
		Columns: []ColumnDef{
			{Name: "kind", SQLType: "TEXT", PrimaryKey: true},
			{Name: "id", SQLType: "TEXT", PrimaryKey: true},
		},
	}, Style{QuoteIdent: dquote})
	require.NoError(t, err)
	require.Contains(t, got, `PRIMARY KEY ("kind", "id")`)
}

func TestRenderRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  TableDef
		want string
	}{
		{name: "empty name", def: TableDef{FQN: "  ", Columns: []ColumnDef{{Name: "a", SQLType: "INT"}}}, want: "table FQN must not be empty"},
		{name: "no columns", def: TableDef{FQN: "t"}, want: "at least one column is required"},
		{name: "blank column", def: TableDef{FQN: "t", Columns: []ColumnDef{{Name: " ", SQLType: "INT"}}}, want: "column with empty name in table t"},
		{name: "no type", def: TableDef{FQN: "t", Columns: []ColumnDef{{Name: "a"}}}, want: "column a missing SQLType"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Render(tt.def, Style{Name: "mysql ddl"})
			require.Error(t, err)
			require.True(t, strings.HasPrefix(err.Error(), "mysql ddl: "), err.Error())
			require.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Render(TableDef{}, Style{})
	require.EqualError(t, err, "ddl: table FQN must not be empty")
}

func TestQuoteFQN(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"users", `"users"`},
		{"public.users", `"public"."users"`},
		{".public..users.", `"public"."users"`},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, QuoteFQN(tt.in, dquote), tt.in)
	}
	require.Equal(t, "[dbo].[Users]", QuoteFQN("dbo.Users", bracket))
}
