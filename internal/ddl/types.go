package ddl

// ColumnDef is one column of a table definition. Name is unquoted; quoting
// happens at render time. Default is a raw SQL expression.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds a possibly schema-qualified table name in dotted form
// ("schema.table") and its ordered columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Style carries the dialect-specific parts of a CREATE TABLE statement.
type Style struct {
	// Name prefixes error messages, e.g. "mssql ddl".
	Name string

	// QuoteIdent quotes one identifier segment. Nil emits names verbatim.
	QuoteIdent func(string) string

	// IfNotExists adds IF NOT EXISTS after CREATE TABLE.
	IfNotExists bool

	// Guard wraps the finished statement. fqn is already quoted. Used by
	// dialects without CREATE TABLE IF NOT EXISTS.
	Guard func(fqn, stmt string) string
}
