package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultLockPrefix is prepended to a cache key to form its lock key.
const DefaultLockPrefix = "lock:"

// MaxFingerprintLength is the longest fingerprint kept verbatim. Longer
// fingerprints are replaced by a hash.
const MaxFingerprintLength = 200

// Key composes a cache key from a namespace prefix and an identifier.
func Key(prefix string, id any) string {
	return prefix + identifier(id)
}

// LockKey returns the lock key guarding the cache key prefix+id.
func LockKey(lockPrefix string, prefix string, id any) string {
	return lockPrefix + Key(prefix, id)
}

func identifier(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Fingerprint joins the parameters of a query into a stable identifier.
// Each part is escaped so that separators inside values cannot make two
// different parameter lists collide. Empty and nil parts are kept as empty
// segments so positions stay meaningful.
func Fingerprint(parts ...any) string {
	segments := make([]string, len(parts))
	for i, p := range parts {
		segments[i] = escapeSegment(identifier(p))
	}
	return hashIfLong(strings.Join(segments, ":"))
}

// FingerprintMap is Fingerprint for named parameters. Fields are ordered by
// name, so map iteration order never fragments one query across keys.
func FingerprintMap(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	segments := make([]string, len(names))
	for i, name := range names {
		segments[i] = escapeSegment(name) + "=" + escapeSegment(identifier(fields[name]))
	}
	return hashIfLong(strings.Join(segments, ":"))
}

func escapeSegment(s string) string {
	return url.QueryEscape(s)
}

func hashIfLong(fp string) string {
	if len(fp) <= MaxFingerprintLength {
		return fp
	}
	return "h:" + strconv.FormatUint(xxhash.Sum64String(fp), 16)
}
