package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"extractor/internal/failure"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Command is a statement bound to a connection and a time budget. A zero
// Timeout means no budget beyond the caller's context.
type Command struct {
	Text    string
	Timeout time.Duration
	q       Querier
}

// PrepareCommand binds text to q with the given timeout.
func PrepareCommand(q Querier, text string, timeout time.Duration) *Command {
	return &Command{Text: text, Timeout: timeout, q: q}
}

// Bound derives the context a single execution runs under. When the budget
// expires the context's cause is failure.ErrTimeout.
func (c *Command) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, c.Timeout, failure.ErrTimeout)
}

// Exec runs the command and returns the affected row count, or -1 when the
// driver does not report one.
func (c *Command) Exec(ctx context.Context, args ...any) (int64, error) {
	bctx, cancel := c.Bound(ctx)
	defer cancel()

	res, err := c.q.ExecContext(bctx, c.Text, args...)
	if err != nil {
		return 0, failure.Classify(bctx, fmt.Errorf("exec: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

// Query runs the command and calls fn for each result row. The whole
// iteration shares one time budget.
func (c *Command) Query(ctx context.Context, fn func(*sql.Rows) error, args ...any) error {
	bctx, cancel := c.Bound(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(bctx, c.Text, args...)
	if err != nil {
		return failure.Classify(bctx, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return failure.Classify(bctx, err)
		}
	}
	if err := rows.Err(); err != nil {
		return failure.Classify(bctx, fmt.Errorf("query rows: %w", err))
	}
	return nil
}
