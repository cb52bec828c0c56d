// Package config defines the JSON-serializable job model for the extractor.
// A job file names one SQL source, an ordered transform chain and one
// destination, either the query result cache or an ordinary table.
//
// Example (trimmed):
//
//	{
//	  "name": "cohort_f1",
//	  "source": { "dialect": "postgres", "dsn": "postgres://...", "sql": "SELECT id FROM ..." },
//	  "transform": [ { "kind": "dedup", "options": { "keys": ["id"] } } ],
//	  "destination": {
//	    "kind": "cache",
//	    "cache": { "dialect": "postgres", "dsn": "...", "shape": "identifiers",
//	               "kind": "cohort", "id": "F1", "description": "...", "column": "PatientID" }
//	  }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Destination kinds.
const (
	DestinationCache = "cache"
	DestinationTable = "table"
)

// Job describes one extraction run. It is the top-level object decoded from
// a job file.
type Job struct {
	// Name labels logs, metrics and progress lines.
	Name string `json:"name"`

	Source Source `json:"source"`

	// Transform lists the ordered stages applied to every chunk. Each stage
	// has a kind and an options bag whose shape the stage defines.
	Transform []Transform `json:"transform"`

	Destination Destination `json:"destination"`
	Runtime     Runtime     `json:"runtime"`
}

// Source is the SQL statement to extract and where to run it.
type Source struct {
	// Dialect selects the provider, e.g. "postgres", "mssql", "sqlite".
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
	SQL     string `json:"sql"`

	// CommandTimeoutSeconds bounds each read; 0 means no budget.
	CommandTimeoutSeconds int `json:"command_timeout_seconds"`

	// BatchSize is the maximum number of rows per chunk.
	BatchSize int `json:"batch_size"`

	// AllowEmptyResultSets delivers one empty chunk for a zero-row result so
	// destinations still see the schema.
	AllowEmptyResultSets bool `json:"allow_empty_result_sets"`
}

// CommandTimeout returns the read budget as a duration.
func (s Source) CommandTimeout() time.Duration {
	return time.Duration(s.CommandTimeoutSeconds) * time.Second
}

// Transform defines a single transformation step. The sequence of steps forms
// the transformation chain executed by the pipeline.
type Transform struct {
	// Kind selects the stage: require, project, normalize, dedup, limit,
	// coerce.
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the selected stage.
	Options Options `json:"options"`
}

// Destination selects where the pipeline output goes.
type Destination struct {
	// Kind is "cache" or "table".
	Kind  string `json:"kind"`
	Cache Cache  `json:"cache"`
	Table Table  `json:"table"`
}

// Cache configures a query result cache destination.
type Cache struct {
	Dialect     string `json:"dialect"`
	DSN         string `json:"dsn"`
	Schema      string `json:"schema"`
	LookupTable string `json:"lookup_table"`

	// Shape is "identifiers" (one-column list) or "join" (multi-column).
	Shape string `json:"shape"`

	// Kind, ID and Description form the query fingerprint.
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Description string `json:"description"`

	// Column names the identifier list column.
	Column string `json:"column"`

	// Columns optionally declares join-table columns; a column without a
	// kind is inferred. Empty means every result column, with its kind.
	Columns []CacheColumn `json:"columns"`

	CommandTimeoutSeconds   int `json:"command_timeout_seconds"`
	JoinTableTimeoutSeconds int `json:"join_table_timeout_seconds"`

	// Reuse skips the run when a fresh entry for the fingerprint exists.
	Reuse bool `json:"reuse"`
}

// CacheColumn declares one join-table column.
type CacheColumn struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Table configures an ordinary table destination.
type Table struct {
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
	Schema  string `json:"schema"`
	Name    string `json:"name"`

	// Mode is "create" (default), "replace" or "append".
	Mode           string `json:"mode"`
	NormalizeNames bool   `json:"normalize_names"`
	BatchSize      int    `json:"batch_size"`

	CommandTimeoutSeconds int `json:"command_timeout_seconds"`
}

// Runtime holds process-level knobs.
type Runtime struct {
	// TimeoutSeconds bounds the whole run; 0 means none. Exceeding it fails
	// the run with a timeout rather than cancelling it.
	TimeoutSeconds int `json:"timeout_seconds"`

	// SpillDir holds cache spill files; empty means the OS temp dir.
	SpillDir string `json:"spill_dir"`
}

// Decode reads one job from r. Unknown fields are rejected.
func Decode(r io.Reader) (Job, error) {
	var j Job
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}

// Load reads the job file at path and applies environment overrides.
func Load(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, fmt.Errorf("open job: %w", err)
	}
	defer f.Close()

	j, err := Decode(f)
	if err != nil {
		return Job{}, fmt.Errorf("%s: %w", path, err)
	}
	ApplyEnv(&j, os.Getenv)
	return j, nil
}

// Environment overrides, applied after decoding (12-factor style).
const (
	EnvBatchSize      = "EXTRACT_BATCH_SIZE"
	EnvSourceDSN      = "EXTRACT_SOURCE_DSN"
	EnvCacheDSN       = "EXTRACT_CACHE_DSN"
	EnvTableDSN       = "EXTRACT_TABLE_DSN"
	EnvCommandTimeout = "EXTRACT_COMMAND_TIMEOUT_SECONDS"
	EnvSpillDir       = "EXTRACT_SPILL_DIR"
)

// ApplyEnv overrides job fields from the environment. Unset or unparsable
// values leave the field alone.
func ApplyEnv(j *Job, getenv func(string) string) {
	j.Source.BatchSize = getenvInt(getenv, EnvBatchSize, j.Source.BatchSize)
	j.Source.CommandTimeoutSeconds = getenvInt(getenv, EnvCommandTimeout, j.Source.CommandTimeoutSeconds)
	if s := getenv(EnvSourceDSN); s != "" {
		j.Source.DSN = s
	}
	if s := getenv(EnvCacheDSN); s != "" {
		j.Destination.Cache.DSN = s
	}
	if s := getenv(EnvTableDSN); s != "" {
		j.Destination.Table.DSN = s
	}
	if s := getenv(EnvSpillDir); s != "" {
		j.Runtime.SpillDir = s
	}
}

// getenvInt reads an int from the environment, returning def when unset or
// invalid.
func getenvInt(getenv func(string) string, k string, def int) int {
	if s := getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// Options fetches typed values from a free-form JSON object. It performs
// only minimal type coercion and returns the provided default when a key is
// absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of strings
// (or an array of interface values containing strings). Returns nil when the
// key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive). This is useful for retrieving nested
// configuration blocks that will be unmarshaled into a typed struct by the
// caller.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
