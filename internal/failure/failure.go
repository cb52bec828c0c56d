// Package failure defines the error taxonomy shared by the source, pipeline
// and cache packages. Callers classify errors with errors.Is / errors.As; the
// concrete messages are free to carry extra context via %w wrapping.
package failure

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSchema matches any *SchemaError.
	ErrSchema = errors.New("schema error")

	// ErrTimeout is raised when a command or read exceeds its time budget.
	// It is never used for caller-initiated cancellation.
	ErrTimeout = errors.New("command timeout")

	// ErrCancelled marks a run or read that stopped because the caller asked.
	ErrCancelled = errors.New("cancellation requested")

	// ErrCacheWriteConflict is reported when a commit had to wait behind
	// another commit for the same fingerprint.
	ErrCacheWriteConflict = errors.New("cache write conflict")

	// ErrStaleDefinition matches any *StaleDefinitionError.
	ErrStaleDefinition = errors.New("stale definition")

	// ErrNotCached is returned when no cache entry exists for a fingerprint.
	ErrNotCached = errors.New("no cached result")
)

// SchemaError reports an unmappable provider type or a value that violates
// the declared column type. Row is -1 when the error concerns metadata.
type SchemaError struct {
	Column string
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("schema error: row %d column %q: %s", e.Row, e.Column, e.Reason)
}

// Is lets errors.Is(err, ErrSchema) match.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// StaleDefinitionError is returned instead of serving a cache entry whose
// stored description no longer matches the live definition.
type StaleDefinitionError struct {
	Key     string
	Stored  string
	Current string
}

func (e *StaleDefinitionError) Error() string {
	return fmt.Sprintf("cache entry %s is stale: stored description %q, current %q; must recompute",
		e.Key, e.Stored, e.Current)
}

// Is lets errors.Is(err, ErrStaleDefinition) match.
func (e *StaleDefinitionError) Is(target error) bool { return target == ErrStaleDefinition }

// IsCancelled reports whether err represents a caller-initiated stop.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsTimeout reports whether err represents an exceeded time budget.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// Classify maps err from an operation bound to ctx onto the taxonomy using
// the context's cancellation cause: a cause matching ErrTimeout becomes a
// timeout, any other cancellation becomes ErrCancelled. Errors raised while
// ctx is still live pass through unchanged.
func Classify(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCancelled) {
		return err
	}
	if ctx.Err() == nil {
		return err
	}
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
