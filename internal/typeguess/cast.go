package typeguess

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"extractor/internal/schema"
)

// Cast converts v to the canonical Go value of d.Kind, accepting every
// textual form Observe counts as a match for that kind. Blank strings are
// null for every kind except String.
func Cast(d Decision, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.Kind == schema.KindString {
		return textOf(v), nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		v = s
	}

	switch d.Kind {
	case schema.KindBool:
		if s, ok := v.(string); ok {
			if b, ok := ParseBool(s); ok {
				return b, nil
			}
		}
	case schema.KindDate, schema.KindTimestamp:
		if s, ok := v.(string); ok {
			if t, ok := ParseTime(s); ok {
				return t, nil
			}
		}
	}
	out, err := schema.Coerce(d.Kind, v)
	if err != nil {
		return nil, fmt.Errorf("cast to %s: %w", d.Kind, err)
	}
	return out, nil
}

// ParseBool accepts the textual booleans Observe recognises.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// ParseTime parses s with the first matching timestamp or date layout.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// textOf renders v the way Observe measured its length.
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return toText(v)
}
