package orders

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// keyedLocker hands out one binary semaphore per key. Acquisition is retried a
// bounded number of times; running out of attempts is a contention failure.
type keyedLocker struct {
	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	attempts int
	wait     time.Duration
}

func newKeyedLocker(attempts int, wait time.Duration) *keyedLocker {
	if attempts <= 0 {
		attempts = 1
	}
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	return &keyedLocker{sems: map[string]*semaphore.Weighted{}, attempts: attempts, wait: wait}
}

func (l *keyedLocker) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

func (l *keyedLocker) lock(ctx context.Context, key string) (unlock func(), err error) {
	s := l.sem(key)
	for i := 0; i < l.attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, l.wait)
		err = s.Acquire(actx, 1)
		cancel()
		if err == nil {
			return func() { s.Release(1) }, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, Errorf(KindContention, "product %s is busy after %d attempts", key, l.attempts)
}
