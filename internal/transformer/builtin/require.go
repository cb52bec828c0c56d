package builtin

import (
	"context"

	"extractor/internal/schema"
)

// Require removes any row missing a value for one of Columns. nil and the
// empty string count as missing; zero numbers and false do not.
type Require struct {
	Columns []string
}

func (Require) Name() string { return "require" }

// Apply filters c in place and preserves row order.
func (r Require) Apply(_ context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	idx, err := positions("require", c.Schema, r.Columns)
	if err != nil {
		return nil, false, err
	}
	out := c.Rows[:0]
	for _, row := range c.Rows {
		ok := true
		for _, j := range idx {
			if v := row[j]; v == nil || v == "" {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	c.Rows = out
	return emit(c), false, nil
}
