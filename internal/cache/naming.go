package cache

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"extractor/internal/ddl"
)

// maxTableName keeps generated names inside every backend's identifier limit.
const maxTableName = 60

// TableName derives the deterministic artifact table name for key:
// cache_<folded key>_<xxh3 of key>. The hash keeps keys that fold to the
// same text apart.
func TableName(key string) string {
	suffix := fmt.Sprintf("_%016x", xxh3.HashString(key))
	base := ddl.NormalizeName(key)
	if room := maxTableName - len("cache_") - len(suffix); len(base) > room {
		base = strings.TrimRight(base[:room], "_")
	}
	return "cache_" + base + suffix
}

// stagingName is unique per commit attempt.
func stagingName(key string) string {
	return fmt.Sprintf("stg_%016x_%s", xxh3.HashString(key), uuid.NewString()[:8])
}

var portableIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// columnNames keeps names that are already portable identifiers, folds the
// rest with ddl.NormalizeName, and suffixes case-insensitive duplicates.
func columnNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		base := strings.TrimSpace(n)
		if !portableIdent.MatchString(base) {
			base = ddl.NormalizeName(base)
		}
		name := base
		for k := 2; used[strings.ToLower(name)]; k++ {
			name = fmt.Sprintf("%s_%d", base, k)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}
