package builtin

import (
	"context"
	"fmt"
	"strings"

	"extractor/internal/schema"
)

// Project keeps Columns in the listed order and renames them through Rename
// (old name -> new name, case-insensitive). An empty Columns keeps every
// column.
type Project struct {
	Columns []string
	Rename  map[string]string
}

func (Project) Name() string { return "project" }

func (p Project) Apply(_ context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	names := p.Columns
	if len(names) == 0 {
		names = c.Schema.Names()
	}
	idx, err := positions("project", c.Schema, names)
	if err != nil {
		return nil, false, err
	}

	out := &schema.Chunk{Schema: make(schema.Schema, len(idx)), Rows: make([][]any, len(c.Rows))}
	seen := make(map[string]struct{}, len(idx))
	for i, j := range idx {
		col := c.Schema[j]
		col.Name = p.rename(col.Name)
		key := strings.ToLower(col.Name)
		if _, dup := seen[key]; dup {
			return nil, false, fmt.Errorf("project: duplicate output column %q", col.Name)
		}
		seen[key] = struct{}{}
		out.Schema[i] = col
	}
	for i, row := range c.Rows {
		if out.Rows[i], err = schema.Project(row, idx); err != nil {
			return nil, false, err
		}
	}
	return out, false, nil
}

func (p Project) rename(name string) string {
	if to, ok := p.Rename[name]; ok {
		return to
	}
	for from, to := range p.Rename {
		if strings.EqualFold(from, name) {
			return to
		}
	}
	return name
}
