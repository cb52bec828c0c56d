// Package ddl is a small, dialect-neutral model for CREATE TABLE statements.
// Dialect providers describe their quoting and guard syntax with a Style and
// render through Render.
package ddl

import (
	"fmt"
	"strings"
)

// Render builds a CREATE TABLE statement for t in the given style. The zero
// Style emits names verbatim with no dialect clauses:
//
//	CREATE TABLE <FQN> (
//	  <name> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...,
//	  [PRIMARY KEY (<pk-cols>)]
//	);
func Render(t TableDef, st Style) (string, error) {
	prefix := st.Name
	if prefix == "" {
		prefix = "ddl"
	}
	quote := st.QuoteIdent
	if quote == nil {
		quote = func(s string) string { return s }
	}

	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s: table FQN must not be empty", prefix)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: at least one column is required", prefix)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s: column with empty name in table %s", prefix, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s: column %s missing SQLType", prefix, name)
		}

		var sb strings.Builder
		sb.WriteString(quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	name := fqn
	if st.QuoteIdent != nil {
		name = QuoteFQN(fqn, st.QuoteIdent)
	}
	create := "CREATE TABLE "
	if st.IfNotExists {
		create += "IF NOT EXISTS "
	}

	if st.Guard != nil {
		stmt := fmt.Sprintf("%s%s (\n    %s\n  );", create, name, strings.Join(cols, ",\n    "))
		return st.Guard(name, stmt), nil
	}
	return fmt.Sprintf("%s%s (\n  %s\n);", create, name, strings.Join(cols, ",\n  ")), nil
}

// QuoteFQN quotes each dotted segment of fqn. Empty segments are dropped:
//
//	"dbo.Users"       -> [dbo].[Users]
//	".public..users." -> "public"."users"
func QuoteFQN(fqn string, quote func(string) string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, quote(p))
	}
	return strings.Join(out, ".")
}
