package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownDefinition is returned by a DefinitionStore that has no
// definition for the requested identity.
var ErrUnknownDefinition = errors.New("cache: unknown definition")

// Fingerprint identifies one logical query: the owning definition's kind
// and id, plus the human-authored description of what it selects.
type Fingerprint struct {
	Kind        string
	ID          string
	Description string
}

// Key is the stable identity used as the cache key. It ignores the
// description so a reworded definition still finds, and replaces, its
// previous entry.
func (f Fingerprint) Key() string { return f.Kind + "_" + f.ID }

// Valid reports whether both identity parts are set.
func (f Fingerprint) Valid() bool {
	return strings.TrimSpace(f.Kind) != "" && strings.TrimSpace(f.ID) != ""
}

// Equal reports whether f and o denote the same query with the same
// described semantics.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Key() == o.Key() && !Stale(f.Description, o.Description)
}

func (f Fingerprint) String() string { return fmt.Sprintf("%s (%q)", f.Key(), f.Description) }

// Stale reports whether a cached artifact built from stored must be
// recomputed for a definition currently described as current. The check is
// textual and case-insensitive; it cannot see changes to the underlying
// query that leave the description untouched.
func Stale(current, stored string) bool {
	return !strings.EqualFold(current, stored)
}

// DefinitionStore is the authority on current definitions.
type DefinitionStore interface {
	Fingerprint(ctx context.Context, kind, id string) (Fingerprint, error)
}

// StaticDefinitions is an in-memory DefinitionStore.
type StaticDefinitions struct {
	mu   sync.RWMutex
	defs map[string]Fingerprint
}

// NewStaticDefinitions returns a store holding fps.
func NewStaticDefinitions(fps ...Fingerprint) *StaticDefinitions {
	d := &StaticDefinitions{defs: make(map[string]Fingerprint, len(fps))}
	for _, fp := range fps {
		d.Set(fp)
	}
	return d
}

// Set adds or replaces a definition.
func (d *StaticDefinitions) Set(fp Fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[fp.Key()] = fp
}

// Fingerprint implements DefinitionStore.
func (d *StaticDefinitions) Fingerprint(_ context.Context, kind, id string) (Fingerprint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fp, ok := d.defs[Fingerprint{Kind: kind, ID: id}.Key()]
	if !ok {
		return Fingerprint{}, fmt.Errorf("%w: %s_%s", ErrUnknownDefinition, kind, id)
	}
	return fp, nil
}
