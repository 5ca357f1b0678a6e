// Package lock provides named, TTL-bounded mutual exclusion.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotAcquired is returned by Wait when the key stayed held for the whole wait.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker takes named locks without blocking. Release functions are safe to call more than once.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Wait polls TryAcquire every interval until the lock is taken or wait elapses.
func Wait(ctx context.Context, l Locker, key string, ttl, wait, interval time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		release, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if !time.Now().Add(interval).Before(deadline) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotAcquired)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("wait for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// MemoryLock is a process-local Locker for tests and single-instance runs.
// Released keys are dropped from the map.
type MemoryLock struct {
	mu   sync.Mutex
	gen  uint64
	held map[string]uint64
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]uint64)}
}

func (l *MemoryLock) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.gen++
	gen := l.gen
	l.held[key] = gen

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// An expired holder must not release a newer one
			if l.held[key] == gen {
				delete(l.held, key)
			}
		})
	}

	if ttl > 0 {
		time.AfterFunc(ttl, release)
	}
	return release, true, nil
}
