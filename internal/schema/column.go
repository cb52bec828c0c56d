// Package schema defines the shared column-type vocabulary, the Chunk that
// moves through a pipeline, and the rules that keep every row of a chunk
// conformant with its declared schema.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the provider-independent column type.
type Kind int

const (
	KindUnknown Kind = iota
	KindBool
	KindInt
	KindDouble
	KindDecimal
	KindString
	KindDate
	KindTimestamp
	KindBytes
	KindUUID
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindBool:      "bool",
	KindInt:       "int",
	KindDouble:    "double",
	KindDecimal:   "decimal",
	KindString:    "string",
	KindDate:      "date",
	KindTimestamp: "timestamp",
	KindBytes:     "bytes",
	KindUUID:      "uuid",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a loosely-specified logical type name onto a Kind. The
// mapping is case-insensitive and accepts the aliases used in job configs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean", "bit":
		return KindBool, nil
	case "int", "integer", "bigint", "smallint":
		return KindInt, nil
	case "double", "float", "real":
		return KindDouble, nil
	case "decimal", "numeric":
		return KindDecimal, nil
	case "string", "text", "varchar":
		return KindString, nil
	case "date":
		return KindDate, nil
	case "timestamp", "datetime", "timestamptz":
		return KindTimestamp, nil
	case "bytes", "blob", "binary":
		return KindBytes, nil
	case "uuid", "uniqueidentifier":
		return KindUUID, nil
	}
	return KindUnknown, fmt.Errorf("unknown column kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Column describes one column of a result set. Length applies to strings
// and bytes; Precision and Scale to decimals. Zero means unknown.
type Column struct {
	Name         string
	Kind         Kind
	Nullable     bool
	Length       int64
	Precision    int64
	Scale        int64
	ProviderType string
}

// Schema is the ordered column list of a result set.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column (case-insensitive) or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Conform coerces row in place to the canonical Go types of s and reports
// the first violation as a *failure.SchemaError. rowNum is used for
// diagnostics only.
func (s Schema) Conform(rowNum int, row []any) error {
	if len(row) != len(s) {
		return schemaErr("", rowNum, fmt.Sprintf("row has %d values, schema has %d columns", len(row), len(s)))
	}
	for i := range row {
		v, err := Coerce(s[i].Kind, row[i])
		if err != nil {
			return schemaErr(s[i].Name, rowNum, err.Error())
		}
		row[i] = v
	}
	return nil
}
