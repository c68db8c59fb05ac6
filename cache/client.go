package cache

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/HongKai-hskd/vibeMusic/logger"
	"github.com/HongKai-hskd/vibeMusic/resilience"
)

const (
	// DefaultNullTTL is how long a confirmed absence is remembered.
	DefaultNullTTL = 2 * time.Minute
	// DefaultMutexBackoff is the pause between lock attempts in QueryWithMutex.
	DefaultMutexBackoff = 50 * time.Millisecond
	// DefaultMutexMaxRetries bounds the lock attempts in QueryWithMutex.
	DefaultMutexMaxRetries = 100
)

// Loader fetches a value from the system of record. The bool reports whether
// the record exists; return false (with a nil error) for a legitimate absence
// so the absence itself can be cached.
type Loader[T any] func(ctx context.Context) (T, bool, error)

type clientConfig struct {
	executor        *Executor
	codec           Codec
	logger          logger.Logger
	tracer          trace.Tracer
	nullTTL         time.Duration
	lockTTL         time.Duration
	lockPrefix      string
	mutexBackoff    time.Duration
	mutexMaxRetries int
	singleflight    bool
	jitter          float64
	rebuildRetry    resilience.RetryConfig
	now             func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithExecutor injects the pool used for logical-expire rebuilds. The caller
// owns its lifecycle. Without it, NewClient starts a private executor that
// Close shuts down.
func WithExecutor(e *Executor) ClientOption {
	return func(c *clientConfig) { c.executor = e }
}

// WithCodec sets the payload codec. Defaults to JSONCodec.
func WithCodec(codec Codec) ClientOption {
	return func(c *clientConfig) { c.codec = codec }
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = log }
}

// WithTracer sets the tracer used for query spans. Defaults to the global
// OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *clientConfig) { c.tracer = t }
}

// WithNullTTL sets how long the absent sentinel lives. Defaults to DefaultNullTTL.
func WithNullTTL(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.nullTTL = d }
}

// WithLockTTL sets the lifetime of rebuild locks. Defaults to DefaultLockTTL.
func WithLockTTL(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.lockTTL = d }
}

// WithLockPrefix sets the prefix that turns a cache key into its lock key.
// Defaults to DefaultLockPrefix.
func WithLockPrefix(p string) ClientOption {
	return func(c *clientConfig) { c.lockPrefix = p }
}

// WithMutexBackoff sets the pause between lock attempts in QueryWithMutex.
func WithMutexBackoff(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.mutexBackoff = d }
}

// WithMutexMaxRetries bounds the lock attempts in QueryWithMutex.
func WithMutexMaxRetries(n int) ClientOption {
	return func(c *clientConfig) { c.mutexMaxRetries = n }
}

// WithLocalSingleflight controls whether concurrent QueryWithMutex calls for
// the same key inside this process share one lock attempt and one load.
// Enabled by default.
func WithLocalSingleflight(enabled bool) ClientOption {
	return func(c *clientConfig) { c.singleflight = enabled }
}

// WithTTLJitter adds up to fraction*ttl of random extra lifetime to values
// written by the pass-through and mutex policies, so keys filled together do
// not expire together.
func WithTTLJitter(fraction float64) ClientOption {
	return func(c *clientConfig) { c.jitter = fraction }
}

// WithRebuildRetry sets the retry policy for writing rebuilt envelopes.
func WithRebuildRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *clientConfig) { c.rebuildRetry = cfg }
}

func withClock(now func() time.Time) ClientOption {
	return func(c *clientConfig) { c.now = now }
}

// Client is the read-through cache facade. Its query policies are package
// level generic functions: QueryWithPassThrough, QueryWithMutex and
// QueryWithLogicalExpire.
type Client struct {
	store        Store
	locker       *Locker
	executor     *Executor
	ownsExecutor bool
	cfg          clientConfig
	logger       logger.Logger
	flight       singleflight.Group
	stats        counters
}

// NewClient returns a Client reading and writing through store.
func NewClient(store Store, opts ...ClientOption) *Client {
	cfg := clientConfig{
		codec:           JSONCodec,
		nullTTL:         DefaultNullTTL,
		lockTTL:         DefaultLockTTL,
		lockPrefix:      DefaultLockPrefix,
		mutexBackoff:    DefaultMutexBackoff,
		mutexMaxRetries: DefaultMutexMaxRetries,
		singleflight:    true,
		rebuildRetry: resilience.RetryConfig{
			MaxRetries:        2,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
			RetryableErrors:   IsUnavailable,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer("github.com/HongKai-hskd/vibeMusic/cache")
	}
	log := cfg.logger.WithPrefix("[cache]")
	c := &Client{
		store:    store,
		locker:   NewLocker(store, cfg.lockTTL, log),
		executor: cfg.executor,
		cfg:      cfg,
		logger:   log,
	}
	if c.executor == nil {
		c.executor = NewExecutor(WithExecutorLogger(log))
		c.executor.Start()
		c.ownsExecutor = true
	}
	return c
}

// Store returns the backing store.
func (c *Client) Store() Store {
	return c.store
}

// Locker returns the lock manager shared by the policies.
func (c *Client) Locker() *Locker {
	return c.locker
}

// Codec returns the payload codec.
func (c *Client) Codec() Codec {
	return c.cfg.codec
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

// Close shuts down the rebuild executor if the client created it.
func (c *Client) Close(ctx context.Context) error {
	if !c.ownsExecutor {
		return nil
	}
	return c.executor.Shutdown(ctx)
}

// Evict removes one key so that the next read is a genuine miss. Write paths
// call it after mutating the system of record.
func (c *Client) Evict(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	return c.store.DeleteContext(ctx, key)
}

// EvictNamespace removes every key that starts with prefix.
func (c *Client) EvictNamespace(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, ErrInvalidKey
	}
	pd, ok := c.store.(PrefixDeleter)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupported, "cache: evict namespace %q", prefix)
	}
	n, err := pd.DeletePrefixContext(ctx, prefix)
	if err != nil {
		return n, err
	}
	c.logger.Debug("evicted %d keys under %s", n, prefix)
	return n, nil
}

// Entry describes what is stored under a key.
type Entry struct {
	Key        string
	Found      bool
	Sentinel   bool
	Payload    string
	ExpireTime *time.Time
	Expired    bool
}

// Inspect reads key without side effects and reports whether it holds the
// absent sentinel, a plain value or a logical-expire envelope.
func (c *Client) Inspect(ctx context.Context, key string) (Entry, error) {
	payload, found, err := c.store.GetContext(ctx, key)
	if err != nil {
		return Entry{Key: key}, err
	}
	e := Entry{Key: key, Found: found, Payload: payload}
	if !found {
		return e, nil
	}
	if payload == Sentinel {
		e.Sentinel = true
		return e, nil
	}
	if env, err := DecodeEnvelope[any](c.cfg.codec, payload); err == nil {
		at := env.ExpireTime.Time
		e.ExpireTime = &at
		e.Expired = env.Expired(c.cfg.now())
	}
	return e, nil
}

// Set encodes value and stores it under key with a store-level TTL.
func Set[T any](ctx context.Context, c *Client, key string, value T, ttl time.Duration) error {
	payload, err := EncodeValue(c.cfg.codec, value)
	if err != nil {
		return err
	}
	return c.store.SetContext(ctx, key, payload, ttl)
}

// SetWithLogicalExpire stores value in an envelope that turns stale after ttl.
// The store entry itself never expires.
func SetWithLogicalExpire[T any](ctx context.Context, c *Client, key string, value T, ttl time.Duration) error {
	payload, err := EncodeEnvelope(c.cfg.codec, value, c.cfg.now().Add(ttl))
	if err != nil {
		return err
	}
	return c.store.SetContext(ctx, key, payload, 0)
}

type lookupState int

const (
	stateMiss lookupState = iota
	stateHit
	stateSentinel
	stateDegraded
)

func (s lookupState) String() string {
	switch s {
	case stateHit:
		return "hit"
	case stateSentinel:
		return "sentinel"
	case stateDegraded:
		return "degraded"
	default:
		return "miss"
	}
}

// lookup reads and decodes a plain value. Decode failures are logged and
// reported as a miss so the entry gets reloaded.
func lookup[T any](ctx context.Context, c *Client, key string) (T, lookupState) {
	var zero T
	payload, found, err := c.store.GetContext(ctx, key)
	if err != nil {
		c.stats.degraded.Add(1)
		c.logger.Warn("cache read failed for %s, falling back to loader: %s", key, err)
		return zero, stateDegraded
	}
	if !found {
		c.stats.misses.Add(1)
		return zero, stateMiss
	}
	if payload == Sentinel {
		c.stats.sentinelHits.Add(1)
		return zero, stateSentinel
	}
	val, err := DecodeValue[T](c.cfg.codec, payload)
	if err != nil {
		c.stats.decodeFailures.Add(1)
		c.stats.misses.Add(1)
		c.logger.Warn("%s, reloading", decodeError(err, key))
		return zero, stateMiss
	}
	c.stats.hits.Add(1)
	return val, stateHit
}

// loadDirect calls the loader without touching the store.
func loadDirect[T any](ctx context.Context, c *Client, loader Loader[T]) (T, bool, error) {
	c.stats.loads.Add(1)
	return loader(ctx)
}

// loadAndFill calls the loader and caches its outcome: the encoded value for
// ttl, or the sentinel for the null TTL.
func loadAndFill[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) (T, bool, error) {
	var zero T
	c.stats.loads.Add(1)
	val, ok, err := loader(ctx)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		c.write(ctx, key, Sentinel, c.cfg.nullTTL)
		return zero, false, nil
	}
	payload, err := EncodeValue(c.cfg.codec, val)
	if err != nil {
		c.logger.Error("not caching %s: %s", key, err)
		return val, true, nil
	}
	c.write(ctx, key, payload, c.jittered(ttl))
	return val, true, nil
}

// write stores payload and swallows failures: the caller already has its value.
func (c *Client) write(ctx context.Context, key string, payload string, ttl time.Duration) {
	if err := c.store.SetContext(ctx, key, payload, ttl); err != nil {
		c.logger.Warn("cache write failed for %s: %s", key, err)
	}
}

func (c *Client) jittered(ttl time.Duration) time.Duration {
	if c.cfg.jitter <= 0 || ttl <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Float64()*c.cfg.jitter*float64(ttl))
}

func (c *Client) lockKey(key string) string {
	return c.cfg.lockPrefix + key
}

func (c *Client) unlock(ctx context.Context, lock *Lock) {
	if err := lock.Unlock(ctx); err != nil {
		if errors.Is(err, ErrLockNotHeld) {
			c.logger.Warn("lock %s expired before release, the rebuild outlived the lock TTL", lock.Key())
			return
		}
		c.logger.Warn("failed to release lock %s: %s", lock.Key(), err)
	}
}

func (c *Client) startSpan(ctx context.Context, policy Policy, key string) (context.Context, trace.Span) {
	return c.cfg.tracer.Start(ctx, "cache."+policy.String(), trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.policy", policy.String()),
	))
}

func endSpan(span trace.Span, state string, err error) {
	span.SetAttributes(attribute.String("cache.result", state))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
