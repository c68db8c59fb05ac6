package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/HongKai-hskd/vibeMusic/resilience"
)

// Policy selects how a read-through query handles misses and concurrency.
type Policy int

const (
	// PolicyPassThrough caches absences to stop repeated lookups of
	// nonexistent records from reaching the system of record.
	PolicyPassThrough Policy = iota
	// PolicyMutex lets one caller rebuild a missing key while others wait.
	PolicyMutex
	// PolicyLogicalExpire serves stale values and rebuilds in the background.
	PolicyLogicalExpire
)

func (p Policy) String() string {
	switch p {
	case PolicyPassThrough:
		return "passthrough"
	case PolicyMutex:
		return "mutex"
	case PolicyLogicalExpire:
		return "logical-expire"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the name returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passthrough", "pass-through":
		return PolicyPassThrough, nil
	case "mutex":
		return PolicyMutex, nil
	case "logical-expire", "logical":
		return PolicyLogicalExpire, nil
	}
	return 0, errors.Newf("cache: unknown policy %q", s)
}

// Query runs the read-through query for prefix+id under the given policy.
func Query[T any](ctx context.Context, c *Client, policy Policy, prefix string, id any, loader Loader[T], ttl time.Duration) (T, bool, error) {
	switch policy {
	case PolicyMutex:
		return QueryWithMutex(ctx, c, prefix, id, loader, ttl)
	case PolicyLogicalExpire:
		return QueryWithLogicalExpire(ctx, c, prefix, id, loader, ttl)
	default:
		return QueryWithPassThrough(ctx, c, prefix, id, loader, ttl)
	}
}

// QueryWithPassThrough returns the cached value for prefix+id, loading and
// caching it on a miss. A loader that reports no record causes the absent
// sentinel to be cached for the null TTL, and later reads return not found
// without calling the loader until it expires.
func QueryWithPassThrough[T any](ctx context.Context, c *Client, prefix string, id any, loader Loader[T], ttl time.Duration) (val T, found bool, err error) {
	key := Key(prefix, id)
	ctx, span := c.startSpan(ctx, PolicyPassThrough, key)
	v, state := lookup[T](ctx, c, key)
	defer func() { endSpan(span, state.String(), err) }()
	switch state {
	case stateHit:
		return v, true, nil
	case stateSentinel:
		return v, false, nil
	case stateDegraded:
		return loadDirect(ctx, c, loader)
	}
	return loadAndFill(ctx, c, key, loader, ttl)
}

type flightResult[T any] struct {
	val   T
	found bool
	state lookupState
}

// QueryWithMutex is QueryWithPassThrough with a distributed lock around the
// rebuild, so only one caller across all processes runs the loader for a
// missing key. Losers wait and re-read. If the lock cannot be taken within
// the retry budget the query reports not found rather than hitting the
// system of record unguarded.
func QueryWithMutex[T any](ctx context.Context, c *Client, prefix string, id any, loader Loader[T], ttl time.Duration) (val T, found bool, err error) {
	key := Key(prefix, id)
	ctx, span := c.startSpan(ctx, PolicyMutex, key)
	state := stateMiss
	defer func() { endSpan(span, state.String(), err) }()

	if !c.cfg.singleflight {
		val, found, state, err = mutexQuery(ctx, c, key, loader, ttl)
		return val, found, err
	}
	ch := c.flight.DoChan(key, func() (any, error) {
		v, ok, st, err := mutexQuery(ctx, c, key, loader, ttl)
		return flightResult[T]{val: v, found: ok, state: st}, err
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		r := res.Val.(flightResult[T])
		state = r.state
		if res.Err != nil {
			var zero T
			return zero, false, res.Err
		}
		return r.val, r.found, nil
	}
}

func mutexQuery[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) (T, bool, lookupState, error) {
	var zero T
	lockKey := c.lockKey(key)
	for attempt := 0; ; attempt++ {
		v, state := lookup[T](ctx, c, key)
		switch state {
		case stateHit:
			return v, true, state, nil
		case stateSentinel:
			return zero, false, state, nil
		case stateDegraded:
			v, ok, err := loadDirect(ctx, c, loader)
			return v, ok, state, err
		}

		lock, ok, err := c.locker.TryLock(ctx, lockKey)
		if err != nil {
			c.stats.degraded.Add(1)
			c.logger.Warn("lock %s unavailable, falling back to loader: %s", lockKey, err)
			v, ok, err := loadDirect(ctx, c, loader)
			return v, ok, stateDegraded, err
		}
		if ok {
			v, found, err := fillUnderLock(ctx, c, key, lock, loader, ttl)
			return v, found, stateMiss, err
		}

		c.stats.lockContention.Add(1)
		if attempt >= c.cfg.mutexMaxRetries {
			c.logger.Warn("gave up waiting for lock %s after %d attempts", lockKey, attempt+1)
			return zero, false, stateMiss, nil
		}
		if err := sleepContext(ctx, c.cfg.mutexBackoff); err != nil {
			return zero, false, stateMiss, err
		}
	}
}

func fillUnderLock[T any](ctx context.Context, c *Client, key string, lock *Lock, loader Loader[T], ttl time.Duration) (T, bool, error) {
	defer c.unlock(context.WithoutCancel(ctx), lock)
	// another holder may have filled the key between our miss and the lock
	v, state := lookup[T](ctx, c, key)
	switch state {
	case stateHit:
		return v, true, nil
	case stateSentinel:
		return v, false, nil
	case stateDegraded:
		return loadDirect(ctx, c, loader)
	}
	return loadAndFill(ctx, c, key, loader, ttl)
}

// QueryWithLogicalExpire serves keys that were written with
// SetWithLogicalExpire and never expire in the store. A stale envelope is
// returned immediately while one caller schedules a rebuild on the
// executor. A key that is absent is reported as not found; such keys are
// expected to be warmed up front, with SetWithLogicalExpire or
// WarmWithLogicalExpire.
func QueryWithLogicalExpire[T any](ctx context.Context, c *Client, prefix string, id any, loader Loader[T], ttl time.Duration) (val T, found bool, err error) {
	var zero T
	key := Key(prefix, id)
	ctx, span := c.startSpan(ctx, PolicyLogicalExpire, key)
	result := "miss"
	defer func() { endSpan(span, result, err) }()

	payload, ok, err := c.store.GetContext(ctx, key)
	if err != nil {
		c.stats.degraded.Add(1)
		c.logger.Warn("cache read failed for %s, falling back to loader: %s", key, err)
		result = "degraded"
		return loadDirect(ctx, c, loader)
	}
	if !ok || payload == Sentinel {
		c.stats.misses.Add(1)
		return zero, false, nil
	}
	env, err := DecodeEnvelope[T](c.cfg.codec, payload)
	if err != nil {
		c.stats.decodeFailures.Add(1)
		c.logger.Warn("%s, reloading", decodeError(err, key))
		result = "reload"
		return reloadEnvelope(ctx, c, key, loader, ttl)
	}
	if !env.Expired(c.cfg.now()) {
		c.stats.hits.Add(1)
		result = "hit"
		return env.Data, true, nil
	}
	c.stats.staleHits.Add(1)
	result = "stale"
	scheduleRebuild(ctx, c, key, loader, ttl)
	return env.Data, true, nil
}

// WarmWithLogicalExpire loads an absent logical-expire key and writes it as
// an envelope. Concurrent callers share one load: within the process through
// singleflight, across processes through the rebuild lock, with losers
// backing off and re-reading. A caller that cannot take the lock within the
// retry budget reports not found. An envelope that is already present is
// returned as is, stale or not.
func WarmWithLogicalExpire[T any](ctx context.Context, c *Client, prefix string, id any, loader Loader[T], ttl time.Duration) (val T, found bool, err error) {
	key := Key(prefix, id)
	ctx, span := c.startSpan(ctx, PolicyLogicalExpire, key)
	state := stateMiss
	defer func() { endSpan(span, "warm-"+state.String(), err) }()

	if !c.cfg.singleflight {
		val, found, state, err = warmQuery(ctx, c, key, loader, ttl)
		return val, found, err
	}
	ch := c.flight.DoChan("warm:"+key, func() (any, error) {
		v, ok, st, err := warmQuery(ctx, c, key, loader, ttl)
		return flightResult[T]{val: v, found: ok, state: st}, err
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	case res := <-ch:
		r := res.Val.(flightResult[T])
		state = r.state
		if res.Err != nil {
			var zero T
			return zero, false, res.Err
		}
		return r.val, r.found, nil
	}
}

func warmQuery[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) (T, bool, lookupState, error) {
	var zero T
	lockKey := c.lockKey(key)
	for attempt := 0; ; attempt++ {
		v, state := lookupEnvelope[T](ctx, c, key)
		switch state {
		case stateHit:
			return v, true, state, nil
		case stateDegraded:
			v, ok, err := loadDirect(ctx, c, loader)
			return v, ok, state, err
		}

		lock, ok, err := c.locker.TryLock(ctx, lockKey)
		if err != nil {
			c.stats.degraded.Add(1)
			c.logger.Warn("lock %s unavailable, falling back to loader: %s", lockKey, err)
			v, ok, err := loadDirect(ctx, c, loader)
			return v, ok, stateDegraded, err
		}
		if ok {
			v, found, err := warmUnderLock(ctx, c, key, lock, loader, ttl)
			return v, found, stateMiss, err
		}

		c.stats.lockContention.Add(1)
		if attempt >= c.cfg.mutexMaxRetries {
			c.logger.Warn("gave up waiting for lock %s after %d attempts", lockKey, attempt+1)
			return zero, false, stateMiss, nil
		}
		if err := sleepContext(ctx, c.cfg.mutexBackoff); err != nil {
			return zero, false, stateMiss, err
		}
	}
}

func warmUnderLock[T any](ctx context.Context, c *Client, key string, lock *Lock, loader Loader[T], ttl time.Duration) (T, bool, error) {
	defer c.unlock(context.WithoutCancel(ctx), lock)
	if v, state := lookupEnvelope[T](ctx, c, key); state == stateHit {
		return v, true, nil
	}
	v, ok, err := loadDirect(ctx, c, loader)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := SetWithLogicalExpire(ctx, c, key, v, ttl); err != nil {
		c.logger.Warn("cache write failed for %s: %s", key, err)
	}
	return v, true, nil
}

// lookupEnvelope reads the data of an envelope regardless of its expiry.
// Absent, sentinel and unreadable entries are a miss.
func lookupEnvelope[T any](ctx context.Context, c *Client, key string) (T, lookupState) {
	var zero T
	payload, ok, err := c.store.GetContext(ctx, key)
	if err != nil {
		c.stats.degraded.Add(1)
		c.logger.Warn("cache read failed for %s, falling back to loader: %s", key, err)
		return zero, stateDegraded
	}
	if !ok || payload == Sentinel {
		return zero, stateMiss
	}
	env, err := DecodeEnvelope[T](c.cfg.codec, payload)
	if err != nil {
		return zero, stateMiss
	}
	return env.Data, stateHit
}

// reloadEnvelope replaces an unreadable envelope synchronously.
func reloadEnvelope[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) (T, bool, error) {
	v, ok, err := loadDirect(ctx, c, loader)
	if err != nil || !ok {
		if err == nil {
			if _, derr := c.store.DeleteContext(ctx, key); derr != nil {
				c.logger.Warn("failed to drop unreadable entry %s: %s", key, derr)
			}
		}
		return v, ok, err
	}
	if err := SetWithLogicalExpire(ctx, c, key, v, ttl); err != nil {
		c.logger.Warn("cache write failed for %s: %s", key, err)
	}
	return v, true, nil
}

// scheduleRebuild takes the rebuild lock without waiting and hands the
// reload to the executor. Callers that lose the lock return immediately.
func scheduleRebuild[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) {
	lock, ok, err := c.locker.TryLock(ctx, c.lockKey(key))
	if err != nil {
		c.logger.Warn("cannot take rebuild lock for %s: %s", key, err)
		return
	}
	if !ok {
		c.stats.lockContention.Add(1)
		return
	}
	link := trace.LinkFromContext(ctx)
	err = c.executor.Submit(func(tctx context.Context) {
		defer c.unlock(context.WithoutCancel(tctx), lock)
		tctx, span := c.cfg.tracer.Start(tctx, "cache.rebuild", trace.WithLinks(link))
		err := rebuild(tctx, c, key, loader, ttl)
		if err != nil {
			c.stats.rebuildsFailed.Add(1)
			c.logger.Error("rebuild of %s failed: %s", key, err)
		}
		endSpan(span, "rebuild", err)
	})
	if err != nil {
		c.unlock(context.WithoutCancel(ctx), lock)
		c.logger.Warn("rebuild of %s not scheduled: %s", key, err)
	}
}

func rebuild[T any](ctx context.Context, c *Client, key string, loader Loader[T], ttl time.Duration) error {
	c.stats.rebuilds.Add(1)
	c.stats.loads.Add(1)
	v, ok, err := loader(ctx)
	if err != nil {
		return errors.Wrapf(err, "cache: load %q", key)
	}
	if !ok {
		_, err := c.store.DeleteContext(ctx, key)
		return err
	}
	payload, err := EncodeEnvelope(c.cfg.codec, v, c.cfg.now().Add(ttl))
	if err != nil {
		return err
	}
	return retryWrite(ctx, c, key, payload)
}

func retryWrite(ctx context.Context, c *Client, key string, payload string) error {
	return resilience.Retry(ctx, c.cfg.rebuildRetry, func() error {
		return c.store.SetContext(ctx, key, payload, 0)
	})
}
