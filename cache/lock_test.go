package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongKai-hskd/vibeMusic/logger"
)

func TestLockIsExclusive(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(NewRedis(client), 0, logger.NewTestLogger())
	assert.Equal(t, DefaultLockTTL, locker.TTL())
	ctx := context.Background()

	lock, ok, err := locker.TryLock(ctx, "lock:music:song:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lock:music:song:1", lock.Key())
	assert.Equal(t, DefaultLockTTL, mr.TTL("lock:music:song:1"))

	_, ok, err = locker.TryLock(ctx, "lock:music:song:1")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, lock.Unlock(ctx))
	assert.False(t, mr.Exists("lock:music:song:1"))

	_, ok, _ = locker.TryLock(ctx, "lock:music:song:1")
	assert.True(t, ok)
}

func TestLockTokensAreUnique(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewLocker(NewRedis(client), time.Second, logger.NewTestLogger())
	ctx := context.Background()

	a, _, _ := locker.TryLock(ctx, "lock:a")
	b, _, _ := locker.TryLock(ctx, "lock:b")
	assert.NotEqual(t, a.Token(), b.Token())
}

func TestLockExpiredUnlockLeavesNewHolder(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(NewRedis(client), time.Second, logger.NewTestLogger())
	ctx := context.Background()

	first, ok, _ := locker.TryLock(ctx, "lock:k")
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	second, ok, _ := locker.TryLock(ctx, "lock:k")
	require.True(t, ok)

	err := first.Unlock(ctx)
	assert.True(t, errors.Is(err, ErrLockNotHeld))
	got, _ := mr.Get("lock:k")
	assert.Equal(t, second.Token(), got, "the late release must not delete the new holder's lock")

	assert.NoError(t, second.Unlock(ctx))
}

func TestLockFallbackWithoutCompareAndDelete(t *testing.T) {
	log := logger.NewTestLogger()
	store := basicStore{NewInMemory(context.Background())}
	locker := NewLocker(store, time.Second, log)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lock, ok, err := locker.TryLock(ctx, "lock:k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.NoError(t, lock.Unlock(ctx))
	}

	warnings := 0
	for _, e := range log.Entries() {
		if e.Severity == "WARNING" {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "the fallback is reported once")
}

func TestLockEmptyKey(t *testing.T) {
	locker := NewLocker(NewInMemory(context.Background()), time.Second, logger.NewTestLogger())
	_, _, err := locker.TryLock(context.Background(), "")
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestLockUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewLocker(NewRedis(client), time.Second, logger.NewTestLogger())
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "lock:k")
	assert.False(t, ok)
	assert.True(t, IsUnavailable(err))
}
