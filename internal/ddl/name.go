package ddl

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds s into a portable column identifier: lower case, accents
// stripped, runs of separators collapsed to one underscore, anything else
// dropped. Names that fold to nothing become "col". A leading digit gets a
// "c_" prefix so the result is a valid unquoted identifier everywhere.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, remove nonspacing marks, recompose.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return name
}

// UniqueNames normalizes every name and disambiguates collisions with a
// numeric suffix: ["A", "a", "a_2"] -> ["a", "a_2", "a_2_2"].
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		base := NormalizeName(n)
		name := base
		for k := 2; used[name]; k++ {
			name = base + "_" + strconv.Itoa(k)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
