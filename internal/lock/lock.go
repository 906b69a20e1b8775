// Package lock serializes mutations on a job and its bids. Every engine
// operation that reads then writes a job holds the job's lock for the
// duration of the read-modify-write.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive, context-bounded locks by key. The returned
// unlock func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// JobKey is the lock key covering a job and all of its bids.
func JobKey(jobID string) string {
	return "job:" + jobID
}

// MemoryLocker is a process-local keyed mutex.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

// release drops a reference and forgets the key once nobody waits on it.
func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

var _ Locker = (*MemoryLocker)(nil)
