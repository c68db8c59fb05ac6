package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// basicStore hides the optional capabilities of the wrapped store.
type basicStore struct {
	inner Store
}

func (s basicStore) GetContext(ctx context.Context, key string) (string, bool, error) {
	return s.inner.GetContext(ctx, key)
}

func (s basicStore) SetContext(ctx context.Context, key string, val string, ttl time.Duration) error {
	return s.inner.SetContext(ctx, key, val, ttl)
}

func (s basicStore) SetNXContext(ctx context.Context, key string, val string, ttl time.Duration) (bool, error) {
	return s.inner.SetNXContext(ctx, key, val, ttl)
}

func (s basicStore) DeleteContext(ctx context.Context, key string) (bool, error) {
	return s.inner.DeleteContext(ctx, key)
}

func (s basicStore) CloseContext(ctx context.Context) error {
	return s.inner.CloseContext(ctx)
}
