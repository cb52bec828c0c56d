package source

import (
	"context"
	"fmt"

	"extractor/internal/dialect"
	"extractor/internal/failure"
	"extractor/internal/schema"
)

// DefaultPreviewLimit caps Preview when limit is not positive.
const DefaultPreviewLimit = 100

// Preview fetches at most limit rows of sqlText on its own short-lived pool,
// so it never shares a connection with a streaming read. It returns nil when
// the result is empty.
func Preview(ctx context.Context, p dialect.Provider, dsn, sqlText string, limit int) (*schema.Chunk, error) {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	db, err := p.OpenDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, failure.Classify(ctx, fmt.Errorf("preview: execute: %w", err))
	}
	defer rows.Close()

	sch, err := readSchema(p, rows)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}

	chunk := &schema.Chunk{Schema: sch}
	for len(chunk.Rows) < limit && rows.Next() {
		row, err := scanRow(rows, len(sch))
		if err != nil {
			return nil, fmt.Errorf("preview: %w", err)
		}
		dialect.Normalize(p, sch, row)
		if err := sch.Conform(len(chunk.Rows)+1, row); err != nil {
			return nil, fmt.Errorf("preview: %w", err)
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Classify(ctx, fmt.Errorf("preview: read: %w", err))
	}
	if chunk.Len() == 0 {
		return nil, nil
	}
	return chunk, nil
}
