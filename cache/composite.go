package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

type compositeStore struct {
	stores   []Store
	localTTL time.Duration
}

var (
	_ Store             = (*compositeStore)(nil)
	_ CompareAndDeleter = (*compositeStore)(nil)
	_ PrefixDeleter     = (*compositeStore)(nil)
	_ Pinger            = (*compositeStore)(nil)
)

// NewComposite returns a Store that chains multiple stores together, fastest
// first. The last store is authoritative: it is the only tier used for
// SetNX and compare-and-delete, so locks keep working across processes.
// Get checks stores in order and returns the first hit, back-filling the
// tiers in front of it for the local TTL.
// Set and Delete write to all stores; earlier tiers cap the TTL at
// WithLocalTTL so that entries written without expiry still age out locally.
//
// Local tiers only see deletes made through this store. A key evicted by
// another process stays readable here until its local TTL runs out, so use
// a local tier only where that staleness is acceptable or every write goes
// through one process.
// At least one store must be provided; panics if empty.
func NewComposite(stores []Store, opts ...Option) Store {
	if len(stores) == 0 {
		panic("cache: NewComposite requires at least one store")
	}
	cfg := applyOptions(opts)
	return &compositeStore{stores: stores, localTTL: cfg.localTTL}
}

func (c *compositeStore) authoritative() Store {
	return c.stores[len(c.stores)-1]
}

func (c *compositeStore) local() []Store {
	return c.stores[:len(c.stores)-1]
}

func (c *compositeStore) capTTL(ttl time.Duration) time.Duration {
	if c.localTTL <= 0 {
		return ttl
	}
	if ttl <= 0 || ttl > c.localTTL {
		return c.localTTL
	}
	return ttl
}

func (c *compositeStore) GetContext(ctx context.Context, key string) (string, bool, error) {
	for i, store := range c.stores {
		val, found, err := store.GetContext(ctx, key)
		if err != nil {
			return "", false, err
		}
		if found {
			c.backfill(ctx, i, key, val)
			return val, true, nil
		}
	}
	return "", false, nil
}

// backfill copies a value found in tier hit into the tiers in front of it.
// Failures only cost a later local miss and are ignored.
func (c *compositeStore) backfill(ctx context.Context, hit int, key string, val string) {
	if c.localTTL <= 0 {
		return
	}
	for _, store := range c.stores[:hit] {
		_ = store.SetContext(ctx, key, val, c.localTTL)
	}
}

func (c *compositeStore) SetContext(ctx context.Context, key string, val string, ttl time.Duration) error {
	var errs error
	for _, store := range c.local() {
		errs = errors.CombineErrors(errs, store.SetContext(ctx, key, val, c.capTTL(ttl)))
	}
	return errors.CombineErrors(errs, c.authoritative().SetContext(ctx, key, val, ttl))
}

func (c *compositeStore) SetNXContext(ctx context.Context, key string, val string, ttl time.Duration) (bool, error) {
	return c.authoritative().SetNXContext(ctx, key, val, ttl)
}

func (c *compositeStore) DeleteContext(ctx context.Context, key string) (bool, error) {
	var errs error
	anyFound := false
	for _, store := range c.stores {
		found, err := store.DeleteContext(ctx, key)
		errs = errors.CombineErrors(errs, err)
		anyFound = anyFound || found
	}
	return anyFound, errs
}

func (c *compositeStore) CompareAndDeleteContext(ctx context.Context, key string, expected string) (bool, error) {
	cad, ok := c.authoritative().(CompareAndDeleter)
	if !ok {
		return false, ErrUnsupported
	}
	return cad.CompareAndDeleteContext(ctx, key, expected)
}

// DeletePrefixContext evicts the prefix from every tier that supports it and
// returns the count reported by the authoritative tier.
func (c *compositeStore) DeletePrefixContext(ctx context.Context, prefix string) (int64, error) {
	var n int64
	for i, store := range c.stores {
		pd, ok := store.(PrefixDeleter)
		if !ok {
			if i == len(c.stores)-1 {
				return n, ErrUnsupported
			}
			continue
		}
		deleted, err := pd.DeletePrefixContext(ctx, prefix)
		if err != nil {
			return n, err
		}
		if i == len(c.stores)-1 {
			n = deleted
		}
	}
	return n, nil
}

// PingContext pings every tier that supports it.
func (c *compositeStore) PingContext(ctx context.Context) error {
	for _, store := range c.stores {
		if p, ok := store.(Pinger); ok {
			if err := p.PingContext(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compositeStore) CloseContext(ctx context.Context) error {
	var errs error
	for _, store := range c.stores {
		errs = errors.CombineErrors(errs, store.CloseContext(ctx))
	}
	return errs
}
