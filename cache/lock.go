package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/HongKai-hskd/vibeMusic/logger"
)

// DefaultLockTTL bounds how long a crashed holder can block a key. It must
// exceed the expected loader latency.
const DefaultLockTTL = 10 * time.Second

// Locker hands out best-effort distributed locks built on SetNX.
type Locker struct {
	store    Store
	ttl      time.Duration
	logger   logger.Logger
	warnOnce sync.Once
}

// NewLocker returns a Locker writing lock entries with the given TTL.
func NewLocker(store Store, ttl time.Duration, log logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{store: store, ttl: ttl, logger: log}
}

// TTL returns the lifetime of lock entries.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// TryLock attempts to take the lock at key without waiting. The returned Lock
// carries a unique token; only that token can release it.
func (l *Locker) TryLock(ctx context.Context, key string) (*Lock, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	token := uuid.NewString()
	ok, err := l.store.SetNXContext(ctx, key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{key: key, token: token, locker: l}, true, nil
}

// Lock is a held lock entry.
type Lock struct {
	key    string
	token  string
	locker *Locker
}

// Key returns the lock key.
func (lk *Lock) Key() string { return lk.key }

// Token returns the value written to the lock key.
func (lk *Lock) Token() string { return lk.token }

// Unlock releases the lock if it is still held by this token. It returns
// ErrLockNotHeld when the entry expired and was taken by another holder, in
// which case the other holder's lock is left untouched.
func (lk *Lock) Unlock(ctx context.Context) error {
	if cad, ok := lk.locker.store.(CompareAndDeleter); ok {
		deleted, err := cad.CompareAndDeleteContext(ctx, lk.key, lk.token)
		if err == nil {
			if !deleted {
				return errors.Wrapf(ErrLockNotHeld, "cache: unlock %q", lk.key)
			}
			return nil
		}
		if !errors.Is(err, ErrUnsupported) {
			return err
		}
	}
	lk.locker.warnOnce.Do(func() {
		lk.locker.logger.Warn("store cannot compare-and-delete, releasing locks unconditionally")
	})
	_, err := lk.locker.store.DeleteContext(ctx, lk.key)
	return err
}
