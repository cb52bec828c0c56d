package spill

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	f, err := Create(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	ts := time.Date(2024, 2, 29, 13, 14, 15, 123, time.UTC)
	rows := [][]any{
		{int64(1), "Alice", 1.5, true, ts, []byte{0, 1}, nil},
		{int64(-7), "", 0.0, false, ts.Add(time.Hour), []byte{9}, "x"},
		{int64(3_000_000_000), "Ünïcode", -2.25, true, ts, nil, nil},
	}
	for _, r := range rows {
		require.NoError(t, f.Append(r))
	}
	require.EqualValues(t, 3, f.Rows())

	for pass := 0; pass < 2; pass++ {
		var got [][]any
		require.NoError(t, f.Each(context.Background(), func(row []any) error {
			got = append(got, row)
			return nil
		}))
		require.Equal(t, rows, got, "pass %d", pass)
	}
}

func TestAppendAfterReplay(t *testing.T) {
	t.Parallel()

	f, err := Create(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Append([]any{int64(1)}))
	n := 0
	require.NoError(t, f.Each(context.Background(), func([]any) error { n++; return nil }))
	require.NoError(t, f.Append([]any{int64(2)}))

	var got []any
	require.NoError(t, f.Each(context.Background(), func(r []any) error {
		got = append(got, r[0])
		return nil
	}))
	require.Equal(t, []any{int64(1), int64(2)}, got)
}

func TestCloseRemovesFile(t *testing.T) {
	t.Parallel()

	f, err := Create(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, f.Append([]any{"a"}))

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	_, err = os.Stat(f.path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, f.Append([]any{"b"}), ErrClosed)
	require.ErrorIs(t, f.Each(context.Background(), func([]any) error { return nil }), ErrClosed)
}

func TestEachHonoursContext(t *testing.T) {
	t.Parallel()

	f, err := Create(t.TempDir())
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Append([]any{int64(1)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.Each(ctx, func([]any) error { return nil }), context.Canceled)
}
