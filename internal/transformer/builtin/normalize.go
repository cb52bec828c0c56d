package builtin

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"extractor/internal/schema"
)

const nbsp = "\u00a0"

// Normalize cleans string values: NBSP becomes a space, the result is put in
// Unicode NFC and surrounding whitespace is trimmed. Columns limits the work
// to the named columns; empty means every string column. With BlankAsNull an
// empty result becomes nil.
type Normalize struct {
	Columns     []string
	BlankAsNull bool
}

func (Normalize) Name() string { return "normalize" }

// Apply rewrites c in place.
func (n Normalize) Apply(_ context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	var idx []int
	if len(n.Columns) > 0 {
		var err error
		if idx, err = positions("normalize", c.Schema, n.Columns); err != nil {
			return nil, false, err
		}
	} else {
		for j, col := range c.Schema {
			if col.Kind == schema.KindString {
				idx = append(idx, j)
			}
		}
	}

	for _, row := range c.Rows {
		for _, j := range idx {
			s, ok := row[j].(string)
			if !ok {
				continue
			}
			s = Clean(s)
			if s == "" && n.BlankAsNull {
				row[j] = nil
				continue
			}
			row[j] = s
		}
	}
	return c, false, nil
}

// Clean applies the Normalize rules to one string.
func Clean(s string) string {
	if strings.Contains(s, nbsp) {
		s = strings.ReplaceAll(s, nbsp, " ")
	}
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return strings.TrimSpace(s)
}
