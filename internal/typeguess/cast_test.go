package typeguess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"extractor/internal/schema"
)

// TestCastAcceptsWhatObserveAccepts guesses a column, then casts every value
// to the decision.
func TestCastAcceptsWhatObserveAccepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []any
		kind schema.Kind
		want []any
	}{
		{
			in:   []any{"101", int64(205), " 310 ", ""},
			kind: schema.KindInt,
			want: []any{int64(101), int64(205), int64(310), nil},
		},
		{
			in:   []any{"yes", "N", true},
			kind: schema.KindBool,
			want: []any{true, false, true},
		},
		{
			in:   []any{"12.5", int64(3)},
			kind: schema.KindDecimal,
			want: []any{"12.5", "3"},
		},
		{
			in:   []any{"02.01.2024", "2024-01-03"},
			kind: schema.KindDate,
			want: []any{
				time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			in:   []any{int64(1), "a", 2.5, nil},
			kind: schema.KindString,
			want: []any{"1", "a", "2.5", nil},
		},
	}

	for _, tt := range tests {
		d := guessOf(tt.in...)
		require.Equal(t, tt.kind, d.Kind, "%v", tt.in)
		for i, v := range tt.in {
			got, err := Cast(d, v)
			require.NoError(t, err, "%v", v)
			require.Equal(t, tt.want[i], got, "%v", v)
		}
	}
}

func TestCastRejectsDeclaredMismatch(t *testing.T) {
	t.Parallel()

	d := Declared(schema.KindInt).Result()
	_, err := Cast(d, "abc")
	require.Error(t, err)

	got, err := Cast(d, "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), got)
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	b, ok := ParseBool(" Yes ")
	require.True(t, ok)
	require.True(t, b)
	_, ok = ParseBool("maybe")
	require.False(t, ok)
}
