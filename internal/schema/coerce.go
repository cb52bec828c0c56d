package schema

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"extractor/internal/failure"
)

// TimeLayouts are tried in order when a temporal column delivers text.
var TimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func schemaErr(col string, row int, reason string) error {
	return &failure.SchemaError{Column: col, Row: row, Reason: reason}
}

// Coerce converts a driver value into the canonical Go type for kind:
//
//	Bool      -> bool
//	Int       -> int64
//	Double    -> float64
//	Decimal   -> string (exact decimal text)
//	String    -> string
//	Date      -> time.Time
//	Timestamp -> time.Time
//	Bytes     -> []byte (copied)
//	UUID      -> string (canonical form)
//
// nil passes through. Values that cannot represent kind return an error.
func Coerce(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindBool:
		return toBool(v)
	case KindInt:
		return toInt(v)
	case KindDouble:
		return toDouble(v)
	case KindDecimal:
		return toDecimal(v)
	case KindString:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
	case KindDate, KindTimestamp:
		return toTime(v)
	case KindBytes:
		switch t := v.(type) {
		case []byte:
			return append([]byte(nil), t...), nil
		case string:
			return []byte(t), nil
		}
	case KindUUID:
		return toUUID(v)
	}
	return nil, fmt.Errorf("value %v (%T) does not conform to %s", v, v, kind)
}

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case []byte:
		return toBool(string(t))
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a bool", v, v)
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t), nil
		}
	case []byte:
		return toInt(string(t))
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not an integer", v, v)
}

func toDouble(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		// Round-trip through the shortest decimal form so 0.1f stays 0.1.
		f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(t), 'g', -1, 32), 64)
		return f, nil
	case int64:
		return float64(t), nil
	case []byte:
		return toDouble(string(t))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a double", v, v)
}

func toDecimal(v any) (any, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if _, ok := new(big.Rat).SetString(s); ok {
			return s, nil
		}
	case []byte:
		return toDecimal(string(t))
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("value %v (%T) is not a decimal", v, v)
}

func toTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return toTime(string(t))
	case string:
		if ts, ok := ParseTime(t); ok {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a date/time", v, v)
}

// ParseTime parses s with the first matching layout in TimeLayouts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range TimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func toUUID(v any) (any, error) {
	switch t := v.(type) {
	case string:
		if u, err := uuid.Parse(strings.TrimSpace(t)); err == nil {
			return u.String(), nil
		}
	case [16]byte:
		return uuid.UUID(t).String(), nil
	case uuid.UUID:
		return t.String(), nil
	case []byte:
		if len(t) == 16 {
			u, err := uuid.FromBytes(t)
			if err == nil {
				return u.String(), nil
			}
		}
		return toUUID(string(t))
	}
	return nil, fmt.Errorf("value %v (%T) is not a uuid", v, v)
}
