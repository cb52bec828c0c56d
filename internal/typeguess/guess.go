// Package typeguess deduces the narrowest column type compatible with every
// value observed so far.
//
// A Guess keeps one candidacy flag per type, AND-accumulated over values, and
// MAX-accumulated magnitudes (text length, integer digits, decimal scale,
// integer range). The decision is a pure function of those accumulators, so
// feeding the same multiset of values in any order yields the same result.
// Once a value disqualifies a type, no later value can requalify it.
//
// Priority when several candidates survive mirrors the CSV probe heuristic:
// int > bool > decimal > double > date/timestamp > bytes > string.
package typeguess

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"extractor/internal/schema"
)

// MaxDecimalPrecision is the widest decimal every supported backend accepts.
const MaxDecimalPrecision = 38

// Decision is the final column type read once at commit time.
type Decision struct {
	Kind      schema.Kind
	Length    int64 // max text length in characters (strings, bytes)
	Precision int64 // decimal total digits
	Scale     int64 // decimal digits after the point
	IntBits   int   // 32 or 64 for ints
	Nullable  bool
	Declared  bool // Kind came from a caller declaration, not a scan
}

type candidates uint8

const (
	cInt candidates = 1 << iota
	cBool
	cDecimal
	cDouble
	cTemporal
	cBytes

	cAll = cInt | cBool | cDecimal | cDouble | cTemporal | cBytes
)

// Guess accumulates observations for one column. The zero value is not
// usable; call New.
type Guess struct {
	cand      candidates
	seen      int64
	nullable  bool
	anyTime   bool
	maxLen    int64
	intDigits int64
	scale     int64
	minInt    int64
	maxInt    int64
	declared  schema.Kind
}

// New returns an empty Guess.
func New() *Guess {
	return &Guess{cand: cAll, minInt: math.MaxInt64, maxInt: math.MinInt64}
}

// Declared returns a Guess fixed to kind; observations only refine length
// and nullability.
func Declared(kind schema.Kind) *Guess {
	g := New()
	g.declared = kind
	return g
}

// Observe folds one value into the guess. nil and blank strings only mark
// the column nullable.
func (g *Guess) Observe(v any) {
	if v == nil {
		g.nullable = true
		return
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		g.nullable = true
		return
	}
	g.seen++

	var (
		c    candidates
		text string
	)
	switch t := v.(type) {
	case bool:
		c, text = cBool, strconv.FormatBool(t)
	case int64:
		c, text = g.observeInt(t)
	case int:
		c, text = g.observeInt(int64(t))
	case int32:
		c, text = g.observeInt(int64(t))
	case float64:
		c, text = g.observeFloat(t)
	case float32:
		c, text = g.observeFloat(float64(t))
	case time.Time:
		c, text = cTemporal, t.Format(time.RFC3339Nano)
		if hasClock(t) {
			g.anyTime = true
		}
	case []byte:
		c, text = cBytes, string(t)
		g.maxLen = max(g.maxLen, int64(len(t)))
	case string:
		text = strings.TrimSpace(t)
		c = g.observeText(text)
	default:
		text = toText(v)
		c = g.observeText(text)
	}

	g.cand &= c
	if _, isBytes := v.([]byte); !isBytes {
		g.maxLen = max(g.maxLen, int64(utf8.RuneCountInString(text)))
	}
}

// ObserveAll folds every value in vals.
func (g *Guess) ObserveAll(vals ...any) {
	for _, v := range vals {
		g.Observe(v)
	}
}

func (g *Guess) observeInt(n int64) (candidates, string) {
	g.minInt = min(g.minInt, n)
	g.maxInt = max(g.maxInt, n)
	text := strconv.FormatInt(n, 10)
	g.intDigits = max(g.intDigits, digitsBefore(text))
	return cInt | cDecimal | cDouble, text
}

func (g *Guess) observeFloat(f float64) (candidates, string) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cDouble, strconv.FormatFloat(f, 'g', -1, 64)
	}
	text := strconv.FormatFloat(f, 'f', -1, 64)
	g.intDigits = max(g.intDigits, digitsBefore(text))
	g.scale = max(g.scale, digitsAfter(text))
	return cDecimal | cDouble, text
}

func (g *Guess) observeText(s string) candidates {
	var c candidates
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		g.minInt = min(g.minInt, n)
		g.maxInt = max(g.maxInt, n)
		c |= cInt
	}
	if isBoolText(s) {
		c |= cBool
	}
	if isDecimalText(s) {
		g.intDigits = max(g.intDigits, digitsBefore(s))
		g.scale = max(g.scale, digitsAfter(s))
		c |= cDecimal
	}
	if isDoubleText(s) {
		c |= cDouble
	}
	if ok, withTime := parseTemporal(s); ok {
		c |= cTemporal
		if withTime {
			g.anyTime = true
		}
	}
	return c
}

// Result returns the decision for everything observed so far.
func (g *Guess) Result() Decision {
	d := Decision{Nullable: g.nullable, Length: g.maxLen}
	if g.declared != schema.KindUnknown {
		d.Kind, d.Declared = g.declared, true
		if d.Kind == schema.KindDecimal {
			d.Precision, d.Scale = g.decimalSize()
		}
		return d
	}
	if g.seen == 0 {
		d.Kind = schema.KindString
		d.Nullable = true
		return d
	}

	prec, scale := g.decimalSize()
	switch {
	case g.cand&cInt != 0:
		d.Kind = schema.KindInt
		d.IntBits = 64
		if g.minInt >= math.MinInt32 && g.maxInt <= math.MaxInt32 {
			d.IntBits = 32
		}
	case g.cand&cBool != 0:
		d.Kind = schema.KindBool
	case g.cand&cDecimal != 0 && prec <= MaxDecimalPrecision:
		d.Kind, d.Precision, d.Scale = schema.KindDecimal, prec, scale
	case g.cand&(cDecimal|cDouble) != 0:
		d.Kind = schema.KindDouble
	case g.cand&cTemporal != 0:
		d.Kind = schema.KindDate
		if g.anyTime {
			d.Kind = schema.KindTimestamp
		}
	case g.cand&cBytes != 0:
		d.Kind = schema.KindBytes
	default:
		d.Kind = schema.KindString
	}
	return d
}

func (g *Guess) decimalSize() (precision, scale int64) {
	p := g.intDigits + g.scale
	if p == 0 {
		p = 1
	}
	return p, g.scale
}

// Columns is a Guess per column of a row.
type Columns []*Guess

// NewColumns returns n empty guesses.
func NewColumns(n int) Columns {
	out := make(Columns, n)
	for i := range out {
		out[i] = New()
	}
	return out
}

// ObserveRow folds row into the guesses position by position. Extra values
// are ignored.
func (c Columns) ObserveRow(row []any) {
	for i, g := range c {
		if i < len(row) {
			g.Observe(row[i])
		}
	}
}

// Results returns one decision per column.
func (c Columns) Results() []Decision {
	out := make([]Decision, len(c))
	for i, g := range c {
		out[i] = g.Result()
	}
	return out
}
