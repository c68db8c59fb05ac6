package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongKai-hskd/vibeMusic/resilience"
)

func TestRedisSetGet(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	val, found, err := s.GetContext(ctx, "music:song:1")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)

	assert.NoError(t, s.SetContext(ctx, "music:song:1", `{"songId":1}`, time.Minute))
	val, found, err = s.GetContext(ctx, "music:song:1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"songId":1}`, val)

	assert.NoError(t, s.CloseContext(ctx))
}

func TestRedisEmptyPayloadIsFound(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	assert.NoError(t, s.SetContext(ctx, "music:song:404", Sentinel, time.Minute))
	val, found, err := s.GetContext(ctx, "music:song:404")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Sentinel, val)
}

func TestRedisExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	assert.NoError(t, s.SetContext(ctx, "k", "v", 2*time.Second))
	assert.Equal(t, 2*time.Second, mr.TTL("k"))

	mr.FastForward(3 * time.Second)

	_, found, err := s.GetContext(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisNoExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client)

	assert.NoError(t, s.SetContext(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Duration(0), mr.TTL("k"))
	assert.NoError(t, s.SetContext(context.Background(), "j", "v", -time.Second))
	assert.Equal(t, time.Duration(0), mr.TTL("j"))
}

func TestRedisSetNX(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	ok, err := s.SetNXContext(ctx, "lock:music:song:1", "a", 10*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNXContext(ctx, "lock:music:song:1", "b", 10*time.Second)
	assert.NoError(t, err)
	assert.False(t, ok)

	got, _ := mr.Get("lock:music:song:1")
	assert.Equal(t, "a", got)
	assert.Equal(t, 10*time.Second, mr.TTL("lock:music:song:1"))
}

func TestRedisDelete(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedis(client)
	ctx := context.Background()

	require.NoError(t, s.SetContext(ctx, "k", "v", 0))
	deleted, err := s.DeleteContext(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteContext(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisPrefix(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, WithPrefix("vibe"))
	ctx := context.Background()

	require.NoError(t, s.SetContext(ctx, "music:song:1", "v", 0))
	got, err := mr.Get("vibe:music:song:1")
	assert.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.False(t, mr.Exists("music:song:1"))
}

func TestRedisCompareAndDelete(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client).(CompareAndDeleter)
	ctx := context.Background()

	mr.Set("lock:k", "token-a")

	deleted, err := s.CompareAndDeleteContext(ctx, "lock:k", "token-b")
	assert.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("lock:k"))

	deleted, err = s.CompareAndDeleteContext(ctx, "lock:k", "token-a")
	assert.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("lock:k"))

	deleted, err = s.CompareAndDeleteContext(ctx, "lock:missing", "token-a")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisDeletePrefix(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, WithScanCount(2)).(PrefixDeleter)
	ctx := context.Background()

	for _, k := range []string{"music:song:1", "music:song:2", "music:song:3", "music:playlist:1"} {
		mr.Set(k, "v")
	}

	n, err := s.DeletePrefixContext(ctx, "music:song:")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.False(t, mr.Exists("music:song:2"))
	assert.True(t, mr.Exists("music:playlist:1"))

	_, err = s.DeletePrefixContext(ctx, "")
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestRedisPing(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client).(Pinger)

	assert.NoError(t, s.PingContext(context.Background()))

	mr.Close()
	err := s.PingContext(context.Background())
	assert.True(t, IsUnavailable(err))
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, WithQueryTimeout(time.Second))
	mr.Close()

	_, found, err := s.GetContext(context.Background(), "music:song:1")
	assert.False(t, found)
	assert.Error(t, err)
	assert.True(t, IsUnavailable(err), "a transport error is not a miss")

	err = s.SetContext(context.Background(), "music:song:1", "v", time.Minute)
	assert.True(t, IsUnavailable(err))
}

func TestRedisCircuitBreakerOpens(t *testing.T) {
	mr, client := newTestRedis(t)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "redis",
		MaxFailures:      2,
		Timeout:          time.Minute,
		SuccessThreshold: 1,
	})
	s := NewRedis(client, WithCircuitBreaker(cb))
	mr.Close()

	for i := 0; i < 2; i++ {
		_, _, err := s.GetContext(context.Background(), "k")
		assert.True(t, IsUnavailable(err))
	}
	assert.Equal(t, resilience.StateOpen, cb.State())

	_, _, err := s.GetContext(context.Background(), "k")
	assert.True(t, IsUnavailable(err))
	assert.True(t, errors.Is(err, resilience.ErrCircuitBreakerOpen))
}

func TestRedisReplyErrorDoesNotTripBreaker(t *testing.T) {
	mr, client := newTestRedis(t)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Minute,
	})
	s := NewRedis(client, WithCircuitBreaker(cb))
	mr.HSet("music:song:1", "f", "v")

	_, _, err := s.GetContext(context.Background(), "music:song:1")
	assert.Error(t, err)
	var rerr redis.Error
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, resilience.StateClosed, cb.State())
}
