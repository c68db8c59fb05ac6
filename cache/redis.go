package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStore struct {
	client *redis.Client
	cfg    config
}

var (
	_ Store             = (*redisStore)(nil)
	_ CompareAndDeleter = (*redisStore)(nil)
	_ PrefixDeleter     = (*redisStore)(nil)
	_ Pinger            = (*redisStore)(nil)
)

// NewRedis returns a Store backed by Redis.
// The caller owns the redis.Client lifecycle; CloseContext is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Store {
	return &redisStore{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *redisStore) prefixKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

// do runs fn under the query timeout and, when configured, the circuit
// breaker. Server replies (including redis.Nil) never count as breaker
// failures; only transport errors do.
func (s *redisStore) do(ctx context.Context, op string, key string, fn func(ctx context.Context) error) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if s.cfg.breaker == nil {
		return unavailable(fn(qctx), op, key)
	}
	var reply error
	err := s.cfg.breaker.Execute(qctx, func(ctx context.Context) error {
		err := fn(ctx)
		var rerr redis.Error
		if errors.As(err, &rerr) {
			reply = err
			return nil
		}
		return err
	})
	if err == nil {
		err = reply
	}
	return unavailable(err, op, key)
}

func (s *redisStore) GetContext(ctx context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := s.do(ctx, "get", key, func(ctx context.Context) error {
		v, err := s.client.Get(ctx, s.prefixKey(key)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return val, found, nil
}

func (s *redisStore) SetContext(ctx context.Context, key string, val string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.do(ctx, "set", key, func(ctx context.Context) error {
		return s.client.Set(ctx, s.prefixKey(key), val, ttl).Err()
	})
}

func (s *redisStore) SetNXContext(ctx context.Context, key string, val string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	var ok bool
	err := s.do(ctx, "setnx", key, func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, s.prefixKey(key), val, ttl).Result()
		return err
	})
	return ok, err
}

func (s *redisStore) DeleteContext(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.do(ctx, "del", key, func(ctx context.Context) error {
		var err error
		n, err = s.client.Del(ctx, s.prefixKey(key)).Result()
		return err
	})
	return n > 0, err
}

func (s *redisStore) CompareAndDeleteContext(ctx context.Context, key string, expected string) (bool, error) {
	var n int64
	err := s.do(ctx, "compare-and-delete", key, func(ctx context.Context) error {
		var err error
		n, err = compareAndDelete.Run(ctx, s.client, []string{s.prefixKey(key)}, expected).Int64()
		return err
	})
	return n > 0, err
}

// DeletePrefixContext walks the keyspace with SCAN and deletes every key that
// starts with prefix, one SCAN page at a time.
func (s *redisStore) DeletePrefixContext(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, errors.Wrap(ErrInvalidKey, "cache: refusing to delete an empty prefix")
	}
	match := escapeGlob(s.prefixKey(prefix)) + "*"
	var (
		cursor  uint64
		deleted int64
	)
	for {
		var keys []string
		err := s.do(ctx, "scan", prefix, func(ctx context.Context) error {
			var err error
			keys, cursor, err = s.client.Scan(ctx, cursor, match, s.cfg.scanCount).Result()
			return err
		})
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			var n int64
			err = s.do(ctx, "del", prefix, func(ctx context.Context) error {
				var err error
				n, err = s.client.Del(ctx, keys...).Result()
				return err
			})
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *redisStore) PingContext(ctx context.Context) error {
	return s.do(ctx, "ping", "", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// CloseContext is a no-op; the caller owns the redis.Client lifecycle.
func (s *redisStore) CloseContext(_ context.Context) error {
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
