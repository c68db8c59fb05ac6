package cache

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnavailable marks a failure to reach the backing store. It is never
	// used to signal a missing key.
	ErrUnavailable = errors.New("cache: backend unavailable")
	// ErrDecode marks a payload that could not be decoded into the requested type.
	ErrDecode = errors.New("cache: failed to decode payload")
	// ErrExecutorFull is returned by Submit when the rebuild queue is at capacity.
	ErrExecutorFull = errors.New("cache: rebuild queue is full")
	// ErrExecutorClosed is returned by Submit after Shutdown has been called.
	ErrExecutorClosed = errors.New("cache: rebuild executor is closed")
	// ErrExecutorNotStarted is returned by Submit before Start has been called.
	ErrExecutorNotStarted = errors.New("cache: rebuild executor is not started")
	// ErrLockNotHeld is returned by Unlock when the lock token no longer matches.
	ErrLockNotHeld = errors.New("cache: lock is no longer held")
	// ErrInvalidKey is returned for empty keys or prefixes.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrUnsupported is returned when a store lacks an optional capability.
	ErrUnsupported = errors.New("cache: operation not supported by store")
)

// IsUnavailable reports whether err was caused by the backing store being unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// unavailable wraps a backend error and marks it as ErrUnavailable.
func unavailable(err error, op string, key string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, "cache: %s %q", op, key), ErrUnavailable)
}

// decodeError wraps a codec error and marks it as ErrDecode.
func decodeError(err error, key string) error {
	return errors.Mark(errors.Wrapf(err, "cache: decode %q", key), ErrDecode)
}
