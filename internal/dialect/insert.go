package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// InsertRows loads rows with a prepared single-row INSERT inside one
// transaction. It is the bulk path for backends without a native copy API.
// convert, when non-nil, maps each value before binding.
func InsertRows(
	ctx context.Context,
	p Provider,
	conn *sql.Conn,
	t Table,
	columns []string,
	rows [][]any,
	convert func(col int, v any) any,
) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: insert: columns must not be empty", p.Name())
	}
	if len(rows) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = p.QuoteIdent(c)
		marks[i] = p.Placeholder(i + 1)
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		p.QualifiedName(t), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", p.Name(), err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		rollback()
		return 0, fmt.Errorf("%s: prepare insert: %w", p.Name(), err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	var n int64
	for i, row := range rows {
		if len(row) != len(columns) {
			rollback()
			return 0, fmt.Errorf("%s: row %d has %d values, want %d", p.Name(), i, len(row), len(columns))
		}
		for j, v := range row {
			if convert != nil {
				v = convert(j, v)
			}
			args[j] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			rollback()
			return 0, fmt.Errorf("%s: insert row %d: %w", p.Name(), i, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", p.Name(), err)
	}
	return n, nil
}
