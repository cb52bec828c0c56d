// Package builtin contains the reusable transform stages a job can list in
// its "transform" section. Every stage implements pipeline.Transform and
// keeps each output row conformant with the output chunk's schema.
package builtin

import (
	"fmt"

	"extractor/internal/schema"
)

// positions resolves names against s. An empty names list selects nothing.
func positions(stage string, s schema.Schema, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		j := s.Index(n)
		if j < 0 {
			return nil, fmt.Errorf("%s: column %q not in result set %v", stage, n, s.Names())
		}
		out[i] = j
	}
	return out, nil
}

// emit returns c, or nil when every row was filtered out.
func emit(c *schema.Chunk) *schema.Chunk {
	if c.Len() == 0 {
		return nil
	}
	return c
}
