package typeguess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"extractor/internal/schema"
)

func guessOf(vals ...any) Decision {
	g := New()
	g.ObserveAll(vals...)
	return g.Result()
}

// permutations returns every ordering of vals.
func permutations(vals []any) [][]any {
	if len(vals) <= 1 {
		return [][]any{append([]any(nil), vals...)}
	}
	var out [][]any
	for i := range vals {
		rest := make([]any, 0, len(vals)-1)
		rest = append(rest, vals[:i]...)
		rest = append(rest, vals[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]any{vals[i]}, p...))
		}
	}
	return out
}

// TestGuessIsOrderIndependent feeds every permutation of mixed inputs and
// expects one decision.
func TestGuessIsOrderIndependent(t *testing.T) {
	t.Parallel()

	inputs := [][]any{
		{int64(1), "a", 2.5},
		{"12", "3.25", nil, "-7"},
		{"2024-01-02", "2024-01-03 10:00:00", ""},
		{"true", "no", "Y"},
		{int64(5), int64(3_000_000_000), nil},
	}
	for _, in := range inputs {
		want := guessOf(in...)
		for _, p := range permutations(in) {
			require.Equal(t, want, guessOf(p...), "permutation %v of %v", p, in)
		}
	}
}

// TestGuessMixedWidensToString checks the canonical mixed example.
func TestGuessMixedWidensToString(t *testing.T) {
	t.Parallel()

	d := guessOf(int64(1), "a", 2.5)
	require.Equal(t, schema.KindString, d.Kind)
	require.EqualValues(t, 3, d.Length)
}

func TestGuessKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []any
		want Decision
	}{
		{
			name: "small ints",
			in:   []any{int64(101), int64(205), int64(310)},
			want: Decision{Kind: schema.KindInt, IntBits: 32, Length: 3},
		},
		{
			name: "big ints",
			in:   []any{"1", "9000000000"},
			want: Decision{Kind: schema.KindInt, IntBits: 64, Length: 10},
		},
		{
			name: "ones and zeros stay ints",
			in:   []any{"1", "0", "1"},
			want: Decision{Kind: schema.KindInt, IntBits: 32, Length: 1},
		},
		{
			name: "bools",
			in:   []any{"true", "FALSE", true},
			want: Decision{Kind: schema.KindBool, Length: 5},
		},
		{
			name: "decimal precision and scale",
			in:   []any{"12.5", "-3.125", int64(100)},
			want: Decision{Kind: schema.KindDecimal, Precision: 6, Scale: 3, Length: 6},
		},
		{
			name: "scientific notation is double",
			in:   []any{"1e10", "2.5"},
			want: Decision{Kind: schema.KindDouble, Length: 4},
		},
		{
			name: "dates",
			in:   []any{"2024-01-02", "02.01.2024"},
			want: Decision{Kind: schema.KindDate, Length: 10},
		},
		{
			name: "timestamp wins over date",
			in:   []any{"2024-01-02", time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
			want: Decision{Kind: schema.KindTimestamp, Length: 20},
		},
		{
			name: "bytes",
			in:   []any{[]byte{1, 2, 3}, []byte{4}},
			want: Decision{Kind: schema.KindBytes, Length: 3},
		},
		{
			name: "all null",
			in:   []any{nil, "", "  "},
			want: Decision{Kind: schema.KindString, Nullable: true},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, guessOf(tt.in...))
		})
	}
}

// TestGuessNullsDoNotChangeKind verifies nulls only flip Nullable.
func TestGuessNullsDoNotChangeKind(t *testing.T) {
	t.Parallel()

	with := guessOf(int64(1), nil, "", int64(2))
	without := guessOf(int64(1), int64(2))

	require.Equal(t, without.Kind, with.Kind)
	require.True(t, with.Nullable)
	require.False(t, without.Nullable)
}

// TestGuessDemotionIsPermanent verifies a single disqualifying value keeps a
// column on the fallback type however many conforming values follow.
func TestGuessDemotionIsPermanent(t *testing.T) {
	t.Parallel()

	g := New()
	g.ObserveAll("2024-01-01", "not a date")
	for i := 0; i < 100; i++ {
		g.Observe("2024-01-02")
	}
	require.Equal(t, schema.KindString, g.Result().Kind)
}

// TestGuessWidensMonotonically verifies numeric width and string length never
// shrink as more values arrive.
func TestGuessWidensMonotonically(t *testing.T) {
	t.Parallel()

	g := New()
	g.Observe("123.45")
	first := g.Result()
	g.Observe("1.5")
	second := g.Result()

	require.Equal(t, schema.KindDecimal, second.Kind)
	require.GreaterOrEqual(t, second.Precision, first.Precision)
	require.GreaterOrEqual(t, second.Scale, first.Scale)
	require.GreaterOrEqual(t, second.Length, first.Length)
}

func TestDeclaredKindSkipsInference(t *testing.T) {
	t.Parallel()

	g := Declared(schema.KindString)
	g.ObserveAll(int64(1), int64(22), nil)
	d := g.Result()

	require.Equal(t, schema.KindString, d.Kind)
	require.True(t, d.Declared)
	require.True(t, d.Nullable)
	require.EqualValues(t, 2, d.Length)
}

func TestColumnsObserveRow(t *testing.T) {
	t.Parallel()

	cols := NewColumns(2)
	cols.ObserveRow([]any{int64(1), "Alice"})
	cols.ObserveRow([]any{int64(2), "Bob"})
	cols.ObserveRow([]any{int64(3)})

	got := cols.Results()
	require.Equal(t, schema.KindInt, got[0].Kind)
	require.Equal(t, schema.KindString, got[1].Kind)
	require.EqualValues(t, 5, got[1].Length)
}
