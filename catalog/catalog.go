// Package catalog wires the music catalog read paths to the cache engine.
// Each read path names its namespace, TTL and policy; the repository is only
// consulted on a miss.
package catalog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/logger"
)

// Service serves catalog reads through the cache and evicts on writes.
type Service struct {
	client *cache.Client
	repo   Repository
	ns     Namespaces
	hot    SongQuery
	logger logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNamespaces replaces DefaultNamespaces.
func WithNamespaces(ns Namespaces) Option {
	return func(s *Service) { s.ns = ns }
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.logger = log }
}

// WithHotPageSize sets the size of the first song page, which is preloaded
// and served with logical expiry.
func WithHotPageSize(n int) Option {
	return func(s *Service) { s.hot.PageSize = n }
}

// New returns a Service reading through client.
func New(client *cache.Client, repo Repository, opts ...Option) *Service {
	s := &Service{
		client: client,
		repo:   repo,
		ns:     DefaultNamespaces(),
		hot:    SongQuery{PageNum: DefaultPageNum, PageSize: DefaultPageSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewConsoleLogger()
	}
	s.logger = s.logger.WithPrefix("[catalog]")
	s.hot = s.hot.Normalize()
	return s
}

// Namespaces returns the namespaces in use.
func (s *Service) Namespaces() Namespaces {
	return s.ns
}

// HotQuery returns the song listing that is preloaded at boot.
func (s *Service) HotQuery() SongQuery {
	return s.hot
}

// Song returns a song by id.
func (s *Service) Song(ctx context.Context, id int64) (Song, bool, error) {
	return read(ctx, s, s.ns.Song, id, func(ctx context.Context) (Song, bool, error) {
		return s.repo.FindSong(ctx, id)
	})
}

// Songs returns one page of songs. The anonymous hot page is served with
// logical expiry so it never blocks on a rebuild. A query with a UserID is
// cached under that user only.
func (s *Service) Songs(ctx context.Context, q SongQuery) (SongPage, error) {
	q = q.Normalize()
	ns := s.ns.SongList
	if q == s.hot {
		ns.Policy = cache.PolicyLogicalExpire
	}
	page, _, err := read(ctx, s, ns, q.Fingerprint(), func(ctx context.Context) (SongPage, bool, error) {
		page, err := s.repo.ListSongs(ctx, q)
		return page, err == nil, err
	})
	return page, err
}

// RecommendedSongs returns the recommendations computed for userID. An empty
// list is cached like any other result.
func (s *Service) RecommendedSongs(ctx context.Context, userID int64) ([]Song, error) {
	songs, _, err := read(ctx, s, s.ns.Recommended, userID, func(ctx context.Context) ([]Song, bool, error) {
		songs, err := s.repo.RecommendSongs(ctx, userID)
		if songs == nil {
			songs = []Song{}
		}
		return songs, err == nil, err
	})
	return songs, err
}

// Playlist returns a playlist by id.
func (s *Service) Playlist(ctx context.Context, id int64) (Playlist, bool, error) {
	return read(ctx, s, s.ns.Playlist, id, func(ctx context.Context) (Playlist, bool, error) {
		return s.repo.FindPlaylist(ctx, id)
	})
}

// Artist returns an artist by id.
func (s *Service) Artist(ctx context.Context, id int64) (Artist, bool, error) {
	return read(ctx, s, s.ns.Artist, id, func(ctx context.Context) (Artist, bool, error) {
		return s.repo.FindArtist(ctx, id)
	})
}

// read queries ns with its policy. Logical-expire keys that were never
// warmed, or were evicted, are loaded once and written on first use.
func read[T any](ctx context.Context, s *Service, ns Namespace, id any, loader cache.Loader[T]) (T, bool, error) {
	v, found, err := cache.Query(ctx, s.client, ns.Policy, ns.Prefix, id, loader, ns.TTL)
	if err != nil || found || ns.Policy != cache.PolicyLogicalExpire {
		return v, found, err
	}
	return cache.WarmWithLogicalExpire(ctx, s.client, ns.Prefix, id, loader, ns.TTL)
}

// Preload warms the hot song page. Failures are returned for the caller to
// log; a cold cache only costs the first readers a database round trip.
func (s *Service) Preload(ctx context.Context) error {
	s.logger.Info("preloading song page %d (size %d)", s.hot.PageNum, s.hot.PageSize)
	page, err := s.repo.ListSongs(ctx, s.hot)
	if err != nil {
		return errors.Wrap(err, "catalog: preload song list")
	}
	key := cache.Key(s.ns.SongList.Prefix, s.hot.Fingerprint())
	if err := cache.SetWithLogicalExpire(ctx, s.client, key, page, s.ns.SongList.TTL); err != nil {
		return errors.Wrapf(err, "catalog: preload %s", key)
	}
	s.logger.Info("preloaded %d songs into %s", len(page.Items), key)
	return nil
}
