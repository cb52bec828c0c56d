package transformer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"extractor/internal/config"
	"extractor/internal/pipeline"
	"extractor/internal/progress"
	"extractor/internal/schema"
	"extractor/internal/transformer/builtin"
)

func decode(t *testing.T, js string) []config.Transform {
	t.Helper()
	var ts []config.Transform
	require.NoError(t, json.Unmarshal([]byte(js), &ts))
	return ts
}

func TestBuild(t *testing.T) {
	t.Parallel()

	c, err := Build(decode(t, `[
		{"kind": "normalize", "options": {"blank_as_null": true}},
		{"kind": "require", "options": {"columns": ["id"]}},
		{"kind": "coerce", "options": {"types": {"id": "integer"}}},
		{"kind": "dedupe", "options": {"keys": ["id"]}},
		{"kind": "project", "options": {"columns": ["id"], "rename": {"id": "PatientID"}}},
		{"kind": "limit", "options": {"rows": 10}}
	]`))
	require.NoError(t, err)
	require.Equal(t, []string{"normalize", "require", "coerce", "dedup", "project", "limit"}, c.Names())

	require.Equal(t, builtin.Normalize{BlankAsNull: true}, c[0])
	require.Equal(t, &builtin.Coerce{Types: map[string]schema.Kind{"id": schema.KindInt}}, c[2])
	require.Equal(t, &builtin.Limit{Max: 10}, c[5])
}

func TestBuildRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		js   string
		want string
	}{
		{name: "unknown kind", js: `[{"kind": "explode"}]`, want: `unsupported transform kind "explode"`},
		{name: "require without columns", js: `[{"kind": "require"}]`, want: "options.columns is empty"},
		{name: "limit without rows", js: `[{"kind": "limit"}]`, want: "options.rows"},
		{name: "bad coerce kind", js: `[{"kind": "coerce", "options": {"types": {"x": "money"}}}]`, want: `column "x"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(decode(t, tt.js))
			require.ErrorContains(t, err, "transform[0]")
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	c, err := Build(nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Empty(t, c)
}

// sliceSource serves fixed chunks.
type sliceSource struct{ chunks []*schema.Chunk }

func (s *sliceSource) GetChunk(context.Context) (*schema.Chunk, bool, error) {
	if len(s.chunks) == 0 {
		return nil, false, nil
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, true, nil
}
func (*sliceSource) Dispose(context.Context, error) error { return nil }
func (*sliceSource) Abort(context.Context) error          { return nil }

type collect struct {
	schema schema.Schema
	rows   [][]any
}

func (c *collect) Put(_ context.Context, ch *schema.Chunk) error {
	c.schema = ch.Schema
	c.rows = append(c.rows, ch.Rows...)
	return nil
}
func (*collect) Dispose(context.Context, error) error { return nil }
func (*collect) Abort(context.Context) error          { return nil }

func TestChainInEngine(t *testing.T) {
	t.Parallel()

	s := schema.Schema{{Name: "code", Kind: schema.KindString}, {Name: "label", Kind: schema.KindString}}
	src := &sliceSource{chunks: []*schema.Chunk{
		{Schema: s, Rows: [][]any{{" 101 ", "a"}, {"205", "b"}, {"", "c"}}},
		{Schema: s, Rows: [][]any{{"101", "d"}, {"310", "e"}}},
		{Schema: s, Rows: [][]any{{"400", "f"}, {"500", "g"}}},
	}}
	chain, err := Build(decode(t, `[
		{"kind": "normalize", "options": {"blank_as_null": true}},
		{"kind": "require", "options": {"columns": ["code"]}},
		{"kind": "coerce", "options": {"types": {"code": "int"}}},
		{"kind": "dedup", "options": {"keys": ["code"]}},
		{"kind": "project", "options": {"columns": ["code"], "rename": {"code": "PatientID"}}},
		{"kind": "limit", "options": {"rows": 4}}
	]`))
	require.NoError(t, err)

	dst := &collect{}
	res, err := pipeline.New("chain", src, chain, dst, progress.Nop{}).Run(pipeline.NewToken(context.Background()))
	require.NoError(t, err)

	require.Equal(t, pipeline.Completed, res.State)
	require.True(t, res.StoppedEarly)
	require.Equal(t, []string{"PatientID"}, dst.schema.Names())
	require.Equal(t, schema.KindInt, dst.schema[0].Kind)
	require.Equal(t, [][]any{{int64(101)}, {int64(205)}, {int64(310)}, {int64(400)}}, dst.rows)
	require.EqualValues(t, 4, res.Rows)
	require.EqualValues(t, 3, res.Dropped)
}
