package cache

import (
	"context"
	"time"
)

// Store is the minimal string-keyed backend the engine reads and writes.
// A missing key is reported as found == false with a nil error; errors are
// reserved for backend faults and are marked with ErrUnavailable.
type Store interface {
	// GetContext returns the raw payload stored under key.
	GetContext(ctx context.Context, key string) (string, bool, error)
	// SetContext stores val under key. If ttl <= 0 the entry never expires.
	SetContext(ctx context.Context, key string, val string, ttl time.Duration) error
	// SetNXContext stores val under key only if the key is absent and reports
	// whether the write happened.
	SetNXContext(ctx context.Context, key string, val string, ttl time.Duration) (bool, error)
	// DeleteContext removes key and reports whether it existed.
	DeleteContext(ctx context.Context, key string) (bool, error)
	// CloseContext releases resources owned by the store.
	CloseContext(ctx context.Context) error
}

// CompareAndDeleter is implemented by stores that can atomically delete a
// key only when it still holds an expected value.
type CompareAndDeleter interface {
	CompareAndDeleteContext(ctx context.Context, key string, expected string) (bool, error)
}

// PrefixDeleter is implemented by stores that can remove every key sharing a prefix.
type PrefixDeleter interface {
	DeletePrefixContext(ctx context.Context, prefix string) (int64, error)
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DefaultQueryTimeout is the per-operation timeout for stores that perform
// network I/O.
const DefaultQueryTimeout = 5 * time.Second

// DefaultLocalTTL caps how long a non-authoritative tier of a composite store
// keeps an entry.
const DefaultLocalTTL = 30 * time.Second

// config holds the resolved configuration for a Store implementation.
type config struct {
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
	localTTL     time.Duration
	scanCount    int64
	breaker      Breaker
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		localTTL:     DefaultLocalTTL,
		scanCount:    500,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout for the Redis store.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup
// in the in-memory store. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix namespaces every key written by the Redis store.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithLocalTTL caps the TTL of entries written to the non-authoritative
// tiers of a composite store, and is the TTL of back-filled entries.
// Defaults to DefaultLocalTTL. It also bounds how long an eviction made by
// another process can go unnoticed by this one.
func WithLocalTTL(d time.Duration) Option {
	return func(c *config) { c.localTTL = d }
}

// WithScanCount sets the SCAN COUNT hint used by namespace eviction.
func WithScanCount(n int64) Option {
	return func(c *config) { c.scanCount = n }
}

// WithCircuitBreaker guards Redis calls with b. When the breaker is open,
// calls fail fast with ErrUnavailable.
func WithCircuitBreaker(b Breaker) Option {
	return func(c *config) { c.breaker = b }
}

// Breaker is the subset of resilience.CircuitBreaker used by the Redis store.
type Breaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}
