package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeReadsFirstHit(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(ctx)
	l2 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, l2})
	defer c.CloseContext(ctx)

	require.NoError(t, l2.SetContext(ctx, "k", "from-l2", 0))
	val, found, err := c.GetContext(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-l2", val)

	require.NoError(t, l1.SetContext(ctx, "k", "from-l1", 0))
	val, _, _ = c.GetContext(ctx, "k")
	assert.Equal(t, "from-l1", val)
}

func TestCompositeWritesAllTiers(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	l1 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, NewRedis(client)}, WithLocalTTL(10*time.Second))
	defer c.CloseContext(ctx)

	require.NoError(t, c.SetContext(ctx, "music:song:1", "v", time.Hour))
	_, found, _ := l1.GetContext(ctx, "music:song:1")
	assert.True(t, found)
	assert.Equal(t, time.Hour, mr.TTL("music:song:1"), "the authoritative tier keeps the full TTL")

	deleted, err := c.DeleteContext(ctx, "music:song:1")
	assert.NoError(t, err)
	assert.True(t, deleted)
	_, found, _ = l1.GetContext(ctx, "music:song:1")
	assert.False(t, found)
	assert.False(t, mr.Exists("music:song:1"))
}

func TestCompositeCapsLocalTTL(t *testing.T) {
	c := &compositeStore{localTTL: 30 * time.Second}
	assert.Equal(t, 30*time.Second, c.capTTL(0))
	assert.Equal(t, 30*time.Second, c.capTTL(time.Hour))
	assert.Equal(t, 5*time.Second, c.capTTL(5*time.Second))

	c.localTTL = 0
	assert.Equal(t, time.Hour, c.capTTL(time.Hour))
}

func TestCompositeLocksOnAuthoritativeTier(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(ctx)
	l2 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, l2})
	defer c.CloseContext(ctx)

	ok, err := c.SetNXContext(ctx, "lock:k", "token", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
	_, found, _ := l1.GetContext(ctx, "lock:k")
	assert.False(t, found, "locks are not copied into local tiers")

	deleted, err := c.(CompareAndDeleter).CompareAndDeleteContext(ctx, "lock:k", "token")
	assert.NoError(t, err)
	assert.True(t, deleted)
}

func TestCompositeUnsupportedCapabilities(t *testing.T) {
	ctx := context.Background()
	c := NewComposite([]Store{NewInMemory(ctx), basicStore{NewInMemory(ctx)}})
	defer c.CloseContext(ctx)

	_, err := c.(CompareAndDeleter).CompareAndDeleteContext(ctx, "lock:k", "token")
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = c.(PrefixDeleter).DeletePrefixContext(ctx, "music:")
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestCompositeDeletePrefix(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(ctx)
	l2 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, l2})
	defer c.CloseContext(ctx)

	require.NoError(t, c.SetContext(ctx, "music:song:1", "v", time.Minute))
	require.NoError(t, l2.SetContext(ctx, "music:song:2", "v", time.Minute))

	n, err := c.(PrefixDeleter).DeletePrefixContext(ctx, "music:song:")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, found, _ := l1.GetContext(ctx, "music:song:1")
	assert.False(t, found)
}

func TestCompositeEmptyPanics(t *testing.T) {
	assert.Panics(t, func() { NewComposite(nil) })
}

func TestCompositeBackfillsLocalTier(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	l1 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, NewRedis(client)}, WithLocalTTL(50*time.Millisecond))
	defer c.CloseContext(ctx)

	mr.Set("music:song:1", "from-redis")
	val, found, err := c.GetContext(ctx, "music:song:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "from-redis", val)

	val, found, _ = l1.GetContext(ctx, "music:song:1")
	assert.True(t, found)
	assert.Equal(t, "from-redis", val)

	// an eviction made by another process is only seen once the local copy ages out
	mr.Del("music:song:1")
	_, found, _ = c.GetContext(ctx, "music:song:1")
	assert.True(t, found)
	assert.Eventually(t, func() bool {
		_, found, _ := c.GetContext(ctx, "music:song:1")
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestCompositeWithoutLocalTTLDoesNotBackfill(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(ctx)
	l2 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, l2}, WithLocalTTL(0))
	defer c.CloseContext(ctx)

	require.NoError(t, l2.SetContext(ctx, "k", "v", 0))
	_, found, _ := c.GetContext(ctx, "k")
	assert.True(t, found)
	_, found, _ = l1.GetContext(ctx, "k")
	assert.False(t, found)
}

func TestCompositeWritesEveryTierOnFailure(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	l1 := NewInMemory(ctx)
	c := NewComposite([]Store{l1, NewRedis(client)})
	defer c.CloseContext(ctx)
	mr.Close()

	err := c.SetContext(ctx, "music:song:1", "v", time.Minute)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	_, found, _ := l1.GetContext(ctx, "music:song:1")
	assert.True(t, found, "the local tier is written even when Redis fails")

	deleted, err := c.DeleteContext(ctx, "music:song:1")
	assert.True(t, IsUnavailable(err))
	assert.True(t, deleted)
	_, found, _ = l1.GetContext(ctx, "music:song:1")
	assert.False(t, found, "the local tier is cleared even when Redis fails")
}
