package builtin

import (
	"context"

	"extractor/internal/schema"
)

// Limit passes at most Max rows and then asks the engine to stop, which
// completes the run without reading the rest of the source.
type Limit struct {
	Max int64

	passed int64
}

func (*Limit) Name() string { return "limit" }

func (l *Limit) Apply(_ context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	left := l.Max - l.passed
	if left <= 0 {
		return nil, true, nil
	}
	if int64(c.Len()) >= left {
		c.Rows = c.Rows[:left]
		l.passed = l.Max
		return emit(c), true, nil
	}
	l.passed += int64(c.Len())
	return c, false, nil
}
