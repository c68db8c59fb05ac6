package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	val     string
	expires time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !e.expires.After(now)
}

type inMemoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*entry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
	now       func() time.Time
}

var (
	_ Store             = (*inMemoryStore)(nil)
	_ CompareAndDeleter = (*inMemoryStore)(nil)
	_ PrefixDeleter     = (*inMemoryStore)(nil)
	_ Pinger            = (*inMemoryStore)(nil)
)

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// lookup returns the live entry for key. Callers must hold the mutex.
func (s *inMemoryStore) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

func (s *inMemoryStore) GetContext(_ context.Context, key string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.val, true, nil
}

func (s *inMemoryStore) SetContext(_ context.Context, key string, val string, ttl time.Duration) error {
	s.mutex.Lock()
	s.entries[key] = &entry{val: val, expires: expiresAt(s.now(), ttl)}
	s.mutex.Unlock()
	return nil
}

func (s *inMemoryStore) SetNXContext(_ context.Context, key string, val string, ttl time.Duration) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = &entry{val: val, expires: expiresAt(s.now(), ttl)}
	return true, nil
}

func (s *inMemoryStore) DeleteContext(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.lookup(key)
	delete(s.entries, key)
	return ok, nil
}

func (s *inMemoryStore) CompareAndDeleteContext(_ context.Context, key string, expected string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.val != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *inMemoryStore) DeletePrefixContext(_ context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, ErrInvalidKey
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int64
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *inMemoryStore) PingContext(_ context.Context) error {
	return nil
}

func (s *inMemoryStore) CloseContext(_ context.Context) error {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *inMemoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			s.mutex.Lock()
			for key, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		}
	}
}

// NewInMemory returns a process-local Store. Expired entries are removed
// lazily on access and by a background sweep every WithExpiryCheck interval.
func NewInMemory(parent context.Context, opts ...Option) Store {
	return newInMemory(parent, time.Now, opts...)
}

func newInMemory(parent context.Context, now func() time.Time, opts ...Option) *inMemoryStore {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	s := &inMemoryStore{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     now,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}
