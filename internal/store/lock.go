package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

const lockRetryDelay = 50 * time.Millisecond

// keyLocks serializes work on one key. The semaphore orders goroutines of
// this process; the file lock orders processes.
type keyLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newKeyLocks() *keyLocks {
	return &keyLocks{sems: make(map[string]*semaphore.Weighted)}
}

func (l *keyLocks) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

func (l *keyLocks) lock(ctx context.Context, key, lockFile string) (unlock func(), err error) {
	s := l.sem(key)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		s.Release(1)
		return nil, err
	}
	fl := flock.New(lockFile)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		s.Release(1)
		if err == nil {
			err = ctx.Err()
		}
		return nil, err
	}
	return func() {
		fl.Unlock()
		s.Release(1)
	}, nil
}
