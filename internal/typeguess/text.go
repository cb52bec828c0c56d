package typeguess

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are accepted date-only formats.
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2006/01/02",
}

// timestampLayouts are accepted formats with a time component.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02.01.2006 15:04:05",
	"2006-01-02 15:04:05 -0700",
}

// parseTemporal reports whether s is a date or timestamp and whether a time
// component was present.
func parseTemporal(s string) (ok bool, withTime bool) {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true, true
		}
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true, false
		}
	}
	return false, false
}

func hasClock(t time.Time) bool {
	h, m, s := t.Clock()
	return h != 0 || m != 0 || s != 0 || t.Nanosecond() != 0
}

// isBoolText accepts common textual booleans and 1/0.
func isBoolText(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "t", "f", "yes", "no", "y", "n", "1", "0":
		return true
	}
	return false
}

// isDecimalText accepts [+-]digits[.digits] with at least one digit.
func isDecimalText(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	digits, dot := 0, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// isDoubleText accepts anything strconv parses as a finite float, which adds
// scientific notation on top of isDecimalText.
func isDoubleText(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return false
	}
	ls := strings.ToLower(s)
	return !strings.Contains(ls, "inf") && !strings.Contains(ls, "nan")
}

// digitsBefore counts significant digits before the decimal point.
func digitsBefore(s string) int64 {
	s = strings.TrimLeft(s, "+-")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "0")
	return int64(len(s))
}

// digitsAfter counts digits after the decimal point.
func digitsAfter(s string) int64 {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int64(len(s) - i - 1)
}

func toText(v any) string {
	switch t := v.(type) {
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
