package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	mu        sync.RWMutex
	providers = map[string]Provider{}
)

// Register makes p available under its Name and any aliases. Registering a
// name twice panics; it is a programming error in an init function.
func Register(p Provider, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()
	for _, name := range append([]string{p.Name()}, aliases...) {
		key := strings.ToLower(name)
		if _, dup := providers[key]; dup {
			panic(fmt.Sprintf("dialect: provider %q registered twice", key))
		}
		providers[key] = p
	}
}

// Lookup returns the provider registered under name (case-insensitive).
func Lookup(name string) (Provider, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("dialect: unknown provider %q (have %s)", name, strings.Join(kindsLocked(), ", "))
	}
	return p, nil
}

// Kinds lists the canonical provider names, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	return kindsLocked()
}

func kindsLocked() []string {
	seen := map[string]bool{}
	for _, p := range providers {
		seen[p.Name()] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
