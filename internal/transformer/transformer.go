// Package transformer builds the ordered transform chain of a job from its
// configuration.
package transformer

import (
	"fmt"
	"strings"

	"extractor/internal/config"
	"extractor/internal/pipeline"
	"extractor/internal/schema"
	"extractor/internal/transformer/builtin"
)

// Kinds lists the transform kinds Build accepts.
var Kinds = []string{"require", "project", "normalize", "dedup", "limit", "coerce"}

// Chain is an ordered list of stages.
type Chain []pipeline.Transform

// Names returns the stage names in order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, t := range c {
		out[i] = t.Name()
	}
	return out
}

// Build constructs fresh stages for one run. Stateful stages (dedup, limit,
// coerce) must not be reused across runs, so call Build once per run.
func Build(ts []config.Transform) (Chain, error) {
	c := Chain{}
	for i, t := range ts {
		st, err := build(t)
		if err != nil {
			return nil, fmt.Errorf("transform[%d]: %w", i, err)
		}
		c = append(c, st)
	}
	return c, nil
}

func build(t config.Transform) (pipeline.Transform, error) {
	switch strings.ToLower(strings.TrimSpace(t.Kind)) {
	case "require":
		cols := t.Options.StringSlice("columns")
		if len(cols) == 0 {
			return nil, fmt.Errorf("require: options.columns is empty")
		}
		return builtin.Require{Columns: cols}, nil
	case "project":
		return builtin.Project{
			Columns: t.Options.StringSlice("columns"),
			Rename:  t.Options.StringMap("rename"),
		}, nil
	case "normalize":
		return builtin.Normalize{
			Columns:     t.Options.StringSlice("columns"),
			BlankAsNull: t.Options.Bool("blank_as_null", false),
		}, nil
	case "dedup", "dedupe":
		return &builtin.DeDup{Keys: t.Options.StringSlice("keys")}, nil
	case "limit":
		n := t.Options.Int("rows", -1)
		if n < 0 {
			return nil, fmt.Errorf("limit: options.rows must be >= 0")
		}
		return &builtin.Limit{Max: int64(n)}, nil
	case "coerce":
		types := make(map[string]schema.Kind)
		for col, name := range t.Options.StringMap("types") {
			k, err := schema.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("coerce: column %q: %w", col, err)
			}
			types[col] = k
		}
		return &builtin.Coerce{Types: types, Layout: t.Options.String("layout", "")}, nil
	}
	return nil, fmt.Errorf("unsupported transform kind %q", t.Kind)
}
