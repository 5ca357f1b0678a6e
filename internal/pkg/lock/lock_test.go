package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, "test:", zaptest.NewLogger(t)), mr
}

func TestMemoryLockTryAcquire(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryAcquire(ctx, "other", time.Minute)
	assert.True(t, ok, "different keys are independent")

	release()
	release()

	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLockTTL(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	_, ok, _ := l.TryAcquire(ctx, "ttl", 20*time.Millisecond)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		release, ok, _ := l.TryAcquire(ctx, "ttl", time.Minute)
		if ok {
			release()
		}
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryLockExpiredReleaseKeepsNewHolder(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	stale, ok, _ := l.TryAcquire(ctx, "k", 10*time.Millisecond)
	require.True(t, ok)

	var fresh func()
	require.Eventually(t, func() bool {
		fresh, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
		return ok
	}, time.Second, 5*time.Millisecond)
	defer fresh()

	stale()

	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.False(t, ok)
}

func TestMemoryLockDropsReleasedKeys(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	for i := range 100 {
		release, ok, _ := l.TryAcquire(ctx, fmt.Sprintf("k%d", i), time.Minute)
		require.True(t, ok)
		release()
	}
	stale, ok, _ := l.TryAcquire(ctx, "ttl", 10*time.Millisecond)
	require.True(t, ok)
	defer stale()

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.held) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestWaitGivesUp(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()
	release, _, _ := l.TryAcquire(ctx, "k", time.Minute)
	defer release()

	start := time.Now()
	_, err := Wait(ctx, l, "k", time.Minute, 60*time.Millisecond, 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitAcquiresAfterRelease(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()
	release, _, _ := l.TryAcquire(ctx, "k", time.Minute)
	time.AfterFunc(20*time.Millisecond, release)

	got, err := Wait(ctx, l, "k", time.Minute, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	got()
}

func TestMemoryLockSingleWinner(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryAcquire(ctx, "race", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisLockTryAcquireRelease(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "sub:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:sub:1"))

	release()
	release()
	assert.False(t, mr.Exists("test:sub:1"))

	release2, ok, err := l.TryAcquire(ctx, "sub:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestRedisLockTryAcquireHeld(t *testing.T) {
	l, _ := newRedisLock(t)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "held", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, ok, err = l.TryAcquire(ctx, "held", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockForeignTokenCannotRelease(t *testing.T) {
	l, _ := newRedisLock(t)
	ctx := context.Background()

	release, ok, _ := l.TryAcquire(ctx, "safety", time.Second)
	require.True(t, ok)
	defer release()

	l.buildRelease("safety", "wrong-token")()

	_, ok, err := l.TryAcquire(ctx, "safety", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "key must survive a release with a foreign token")
}

func TestRedisLockTTLExpiry(t *testing.T) {
	l, mr := newRedisLock(t)
	ctx := context.Background()

	_, ok, _ := l.TryAcquire(ctx, "ttl", 500*time.Millisecond)
	require.True(t, ok)

	mr.FastForward(time.Second)

	release, ok, err := l.TryAcquire(ctx, "ttl", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	if release != nil {
		release()
	}
}

func TestLockerImplementations(t *testing.T) {
	var _ Locker = (*MemoryLock)(nil)
	var _ Locker = (*RedisLock)(nil)
}

func TestRedisLockLogsFailedRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	core, logs := observer.New(zap.WarnLevel)
	l := NewRedisLock(client, "test:", zap.New(core))

	release, ok, err := l.TryAcquire(context.Background(), "down", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.Close()
	release()

	entries := logs.FilterMessage("failed to release lock").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "test:down", entries[0].ContextMap()["key"])
}
