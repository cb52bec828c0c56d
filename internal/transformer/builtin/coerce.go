package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"extractor/internal/failure"
	"extractor/internal/schema"
	"extractor/internal/typeguess"
)

// Coerce converts the named columns to a new kind and rewrites the output
// schema to match. Textual input accepts every form type inference
// recognises; Layout, when set, is tried first for dates and timestamps.
// A value that cannot convert fails the run with a *failure.SchemaError.
type Coerce struct {
	Types  map[string]schema.Kind
	Layout string

	rows int
}

func (*Coerce) Name() string { return "coerce" }

func (co *Coerce) Apply(_ context.Context, c *schema.Chunk) (*schema.Chunk, bool, error) {
	if len(co.Types) == 0 {
		return c, false, nil
	}
	type target struct {
		pos  int
		kind schema.Kind
	}
	targets := make([]target, 0, len(co.Types))
	out := append(schema.Schema(nil), c.Schema...)
	names := make([]string, 0, len(co.Types))
	for name := range co.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kind := co.Types[name]
		j := c.Schema.Index(name)
		if j < 0 {
			return nil, false, fmt.Errorf("coerce: column %q not in result set %v", name, c.Schema.Names())
		}
		targets = append(targets, target{j, kind})
		out[j].Kind = kind
		out[j].ProviderType = ""
	}

	for i, row := range c.Rows {
		co.rows++
		for _, t := range targets {
			v, err := co.cast(t.kind, row[t.pos])
			if err != nil {
				return nil, false, &failure.SchemaError{Column: out[t.pos].Name, Row: co.rows, Reason: err.Error()}
			}
			c.Rows[i][t.pos] = v
		}
	}
	c.Schema = out
	return c, false, nil
}

func (co *Coerce) cast(kind schema.Kind, v any) (any, error) {
	if s, ok := v.(string); ok && co.Layout != "" && (kind == schema.KindDate || kind == schema.KindTimestamp) {
		if t, err := time.Parse(co.Layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return typeguess.Cast(typeguess.Decision{Kind: kind}, v)
}
