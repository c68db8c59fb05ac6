package config

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/env"
	"github.com/HongKai-hskd/vibeMusic/logger"
	"github.com/HongKai-hskd/vibeMusic/resilience"
)

// RedisOptions returns the go-redis client options.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password.Text(),
		DB:       c.Redis.DB,
	}
	if c.Redis.URL != "" {
		parsed, err := redis.ParseURL(c.Redis.URL.Text())
		if err != nil {
			return nil, errors.Newf("invalid redis url %s", MaskURL(c.Redis.URL.Text()))
		}
		opts = parsed
	}
	opts.PoolSize = c.Redis.PoolSize
	opts.DialTimeout = c.Redis.DialTimeout.Std()
	opts.ReadTimeout = c.Redis.ReadTimeout.Std()
	opts.WriteTimeout = c.Redis.WriteTimeout.Std()
	return opts, nil
}

// RedisTarget describes the Redis endpoint for logs, with credentials masked.
func (c *Config) RedisTarget() string {
	if c.Redis.URL != "" {
		return MaskURL(c.Redis.URL.Text())
	}
	return c.Redis.Addr
}

// NewBreaker returns the circuit breaker guarding Redis, or nil when disabled.
func (c *Config) NewBreaker(log logger.Logger) *resilience.CircuitBreaker {
	b := c.Redis.Breaker
	if !b.Enabled {
		return nil
	}
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:                  "redis",
		MaxFailures:           b.MaxFailures,
		Timeout:               b.Cooldown.Std(),
		MaxConcurrentRequests: 1,
		SuccessThreshold:      b.SuccessThreshold,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			if to == resilience.StateOpen {
				log.Error("circuit %s opened, cache reads fall back to the database", name)
				return
			}
			log.Info("circuit %s: %s -> %s", name, from, to)
		},
	})
}

// NewStore returns the cache store over client. When Cache.LocalTTL is
// positive an in-process tier sits in front of Redis; ctx bounds its sweeper.
func (c *Config) NewStore(ctx context.Context, client *redis.Client, log logger.Logger) cache.Store {
	opts := []cache.Option{
		cache.WithQueryTimeout(c.Redis.QueryTimeout.Std()),
		cache.WithPrefix(c.Redis.KeyPrefix),
	}
	if b := c.NewBreaker(log); b != nil {
		opts = append(opts, cache.WithCircuitBreaker(b))
	}
	store := cache.NewRedis(client, opts...)
	if c.Cache.LocalTTL <= 0 {
		return store
	}
	return cache.NewComposite(
		[]cache.Store{cache.NewInMemory(ctx), store},
		cache.WithLocalTTL(c.Cache.LocalTTL.Std()),
	)
}

// NewExecutor returns an unstarted rebuild executor.
func (c *Config) NewExecutor(log logger.Logger) *cache.Executor {
	return cache.NewExecutor(
		cache.WithWorkers(c.Executor.Workers),
		cache.WithQueueSize(c.Executor.QueueSize),
		cache.WithExecutorLogger(log),
	)
}

// ClientOptions returns the cache client options for the cache section.
func (c *Config) ClientOptions(log logger.Logger) ([]cache.ClientOption, error) {
	codec, err := cache.CodecByName(c.Cache.Codec)
	if err != nil {
		return nil, err
	}
	return []cache.ClientOption{
		cache.WithCodec(codec),
		cache.WithLogger(log),
		cache.WithNullTTL(c.Cache.NullTTL.Std()),
		cache.WithLockTTL(c.Cache.LockTTL.Std()),
		cache.WithLockPrefix(c.Cache.LockPrefix),
		cache.WithMutexBackoff(c.Cache.MutexBackoff.Std()),
		cache.WithMutexMaxRetries(c.Cache.MutexMaxRetries),
		cache.WithLocalSingleflight(c.Cache.SingleFlight),
		cache.WithTTLJitter(c.Cache.TTLJitter),
	}, nil
}

// LogDefaults returns the log section as fallbacks for command flags.
func (c *Config) LogDefaults() env.LogDefaults {
	return env.LogDefaults{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
