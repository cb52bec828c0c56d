package schema

import (
	"context"
	"fmt"
)

// Chunk is one bounded batch of rows. Every row has len(Schema) values in
// the canonical Go types of the column kinds. A chunk belongs to whichever
// stage currently holds it and is never retained across pulls.
type Chunk struct {
	Schema Schema
	Rows   [][]any
}

// Len returns the number of rows.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rows)
}

// RowSource is a replayable sequence of rows. Each may be called more than
// once; every call visits the same rows in the same order.
type RowSource interface {
	Each(ctx context.Context, fn func(row []any) error) error
}

// RowSlice is an in-memory RowSource.
type RowSlice [][]any

// Each implements RowSource. ctx is checked every 1024 rows.
func (s RowSlice) Each(ctx context.Context, fn func(row []any) error) error {
	for i, row := range s {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Values wraps a single column of values as a RowSource of one-value rows.
func Values(vals ...any) RowSlice {
	out := make(RowSlice, len(vals))
	for i, v := range vals {
		out[i] = []any{v}
	}
	return out
}

// Project returns a copy of row containing only the given positions.
func Project(row []any, idx []int) ([]any, error) {
	out := make([]any, len(idx))
	for i, j := range idx {
		if j < 0 || j >= len(row) {
			return nil, fmt.Errorf("project: position %d out of range for row of %d values", j, len(row))
		}
		out[i] = row[j]
	}
	return out, nil
}
