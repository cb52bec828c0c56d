package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"extractor/internal/failure"
)

// Token is an externally owned stop signal shared by every stage of a run.
// It can be signalled once, either with Cancel (abort now) or Stop (finish
// the current chunk, then complete). The first signal wins.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	once      sync.Once
	stopped   atomic.Bool
	cancelled atomic.Bool
}

// NewToken returns a token whose context derives from parent. Cancelling
// parent counts as Cancel unless its cause is failure.ErrTimeout.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context is cancelled, with cause failure.ErrCancelled, by Cancel, or with
// the parent's cause when the parent ends. It is passed to every blocking
// call of the run.
func (t *Token) Context() context.Context { return t.ctx }

// Cancel asks the run to abort as soon as practical.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		t.cancel(failure.ErrCancelled)
	})
}

// Stop asks the run to complete after the chunk in flight.
func (t *Token) Stop() {
	t.once.Do(func() { t.stopped.Store(true) })
}

// Stopped reports whether Stop was the signal.
func (t *Token) Stopped() bool { return t.stopped.Load() }

// Cancelled reports whether the run should abort, either through Cancel or
// through the parent context. A parent that ended with cause
// failure.ErrTimeout is a timeout, not a cancellation; see Expired.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load() || (t.ctx.Err() != nil && !t.Expired())
}

// Expired reports whether the parent context ended with cause
// failure.ErrTimeout.
func (t *Token) Expired() bool {
	return !t.cancelled.Load() && t.ctx.Err() != nil && errors.Is(context.Cause(t.ctx), failure.ErrTimeout)
}
