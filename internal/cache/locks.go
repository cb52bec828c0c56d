package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks hands out one writer slot per cache key. Slots are created on
// demand and dropped when nobody holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// acquire blocks until key's slot is free or ctx ends. onWait, when not
// nil, runs before blocking if another writer holds the slot.
func (l *keyLocks) acquire(ctx context.Context, key string, onWait func()) (release func(), err error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s := l.slots[key]
	if s == nil {
		s = &slot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	if !s.sem.TryAcquire(1) {
		if onWait != nil {
			onWait()
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			l.unref(key, s)
			return nil, err
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.sem.Release(1)
			l.unref(key, s)
		})
	}, nil
}

func (l *keyLocks) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size returns the number of live slots.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
