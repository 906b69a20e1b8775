package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKey(t *testing.T) {
	assert.Equal(t, "job:job_123", lock.JobKey("job_123"))
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := lock.NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "job:a")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := lock.NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "job:a")
	require.NoError(t, err)
	defer unlockA()

	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(tctx, "job:b")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLocker_ContextTimeout(t *testing.T) {
	l := lock.NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "job:a")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, "job:a")
	assert.True(t, errors.Is(err, lock.ErrNotAcquired))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(ctx, "job:a")
	require.NoError(t, err)
	again()
}
