package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestOptionsString returns the string value when present and typed, else
// the default.
func TestOptionsString(t *testing.T) {
	t.Parallel()

	o := Options{"s": "ok", "n": 123}
	tests := []struct {
		key, def, want string
	}{
		{"s", "zzz", "ok"},
		{"n", "def", "def"},
		{"missing", "fallback", "fallback"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, o.String(tc.key, tc.def), tc.key)
	}
}

func TestOptionsBool(t *testing.T) {
	t.Parallel()

	o := Options{"t": true, "f": false, "s": "not-bool"}
	tests := []struct {
		key       string
		def, want bool
	}{
		{"t", false, true},
		{"f", true, false},
		{"s", true, true},
		{"missing", false, false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, o.Bool(tc.key, tc.def), tc.key)
	}
}

// TestOptionsInt accepts JSON numbers (float64, truncated) and native ints.
func TestOptionsInt(t *testing.T) {
	t.Parallel()

	o := Options{"f": float64(3.9), "i": 7, "s": "nope"}
	tests := []struct {
		key       string
		def, want int
	}{
		{"f", -1, 3},
		{"i", -1, 7},
		{"s", 42, 42},
		{"missing", 99, 99},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, o.Int(tc.key, tc.def), tc.key)
	}
}

// TestOptionsStringMap keeps only string values and never returns nil.
func TestOptionsStringMap(t *testing.T) {
	t.Parallel()

	o := Options{
		"m":      map[string]any{"a": "1", "b": 2, "c": "three"},
		"notobj": "x",
	}
	require.Equal(t, map[string]string{"a": "1", "c": "three"}, o.StringMap("m"))

	for _, key := range []string{"missing", "notobj"} {
		got := o.StringMap(key)
		require.NotNil(t, got, key)
		require.Empty(t, got, key)
	}
}

// TestOptionsStringSlice keeps order, skips non-strings and returns nil for
// anything that is not an array.
func TestOptionsStringSlice(t *testing.T) {
	t.Parallel()

	o := Options{
		"arr_any": []any{"a", 2, "c", true, "d"},
		"arr_str": []string{"x", "y"},
		"notarr":  "nope",
	}
	require.Equal(t, []string{"a", "c", "d"}, o.StringSlice("arr_any"))
	require.Equal(t, []string{"x", "y"}, o.StringSlice("arr_str"))
	require.Nil(t, o.StringSlice("notarr"))
	require.Nil(t, o.StringSlice("missing"))
}

func TestOptionsAny(t *testing.T) {
	t.Parallel()

	o := Options{"num": float64(12), "nested": map[string]any{"k": "v"}}
	require.Equal(t, float64(12), o.Any("num"))
	require.Equal(t, map[string]any{"k": "v"}, o.Any("nested"))
	require.Nil(t, o.Any("missing"))
}

// TestOptionsUnmarshalJSON turns null or empty input into an empty map and
// rejects non-objects.
func TestOptionsUnmarshalJSON(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{[]byte("null"), nil} {
		var o Options
		require.NoError(t, o.UnmarshalJSON(in))
		require.NotNil(t, o)
		require.Empty(t, o)
	}

	var o Options
	require.NoError(t, o.UnmarshalJSON([]byte(`{"a": "b", "n": 1}`)))
	require.Equal(t, Options{"a": "b", "n": float64(1)}, o)

	require.Error(t, new(Options).UnmarshalJSON([]byte(`123`)))

	var w struct {
		Options Options `json:"options"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"options": null}`), &w))
	require.NotNil(t, w.Options)
	require.Empty(t, w.Options)
}

const sampleJob = `{
  "name": "cohort_f1",
  "source": {
    "dialect": "sqlite",
    "dsn": "src.db",
    "sql": "SELECT id FROM visits",
    "batch_size": 2,
    "command_timeout_seconds": 30
  },
  "transform": [
    {"kind": "dedup", "options": {"keys": ["id"]}},
    {"kind": "normalize"}
  ],
  "destination": {
    "kind": "cache",
    "cache": {"dialect": "sqlite", "dsn": "cache.db", "shape": "identifiers",
              "kind": "cohort", "id": "F1", "description": "all visits", "column": "PatientID"}
  },
  "runtime": {"timeout_seconds": 60}
}`

func TestDecodeJob(t *testing.T) {
	t.Parallel()

	j, err := Decode(strings.NewReader(sampleJob))
	require.NoError(t, err)
	require.Equal(t, "cohort_f1", j.Name)
	require.Equal(t, 2, j.Source.BatchSize)
	require.Equal(t, 30*time.Second, j.Source.CommandTimeout())
	require.Len(t, j.Transform, 2)
	require.Equal(t, []string{"id"}, j.Transform[0].Options.StringSlice("keys"))
	require.Equal(t, "PatientID", j.Destination.Cache.Column)
	require.Equal(t, 60, j.Runtime.TimeoutSeconds)
	require.Empty(t, ValidateJob(j))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader(`{"name": "x", "storage": {}}`))
	require.ErrorContains(t, err, "storage")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvBatchSize:      "750",
		EnvCommandTimeout: "not a number",
		EnvSourceDSN:      "override.db",
		EnvSpillDir:       "/var/tmp/spill",
	}
	j, err := Decode(strings.NewReader(sampleJob))
	require.NoError(t, err)
	ApplyEnv(&j, func(k string) string { return env[k] })

	require.Equal(t, 750, j.Source.BatchSize)
	require.Equal(t, 30, j.Source.CommandTimeoutSeconds, "unparsable value ignored")
	require.Equal(t, "override.db", j.Source.DSN)
	require.Equal(t, "cache.db", j.Destination.Cache.DSN)
	require.Equal(t, "/var/tmp/spill", j.Runtime.SpillDir)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJob), 0o600))
	t.Setenv(EnvTableDSN, "table.db")

	j, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "table.db", j.Destination.Table.DSN)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "open job")
}
