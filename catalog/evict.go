package catalog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/HongKai-hskd/vibeMusic/cache"
)

// SongChanged evicts everything a song mutation can make stale: the song
// itself, every cached listing and every recommendation list.
func (s *Service) SongChanged(ctx context.Context, id int64) error {
	return s.evict(ctx,
		[]string{cache.Key(s.ns.Song.Prefix, id)},
		s.ns.SongList.Prefix, s.ns.Recommended.Prefix,
	)
}

// LikesChanged evicts the listings cached for userID after the user liked
// or unliked a song.
func (s *Service) LikesChanged(ctx context.Context, userID int64) error {
	return s.evict(ctx, nil, s.ns.SongList.Prefix+UserScope(userID))
}

// PlaylistChanged evicts one playlist.
func (s *Service) PlaylistChanged(ctx context.Context, id int64) error {
	return s.evict(ctx, []string{cache.Key(s.ns.Playlist.Prefix, id)})
}

// ArtistChanged evicts the artist and every song namespace, since song
// views embed the artist name.
func (s *Service) ArtistChanged(ctx context.Context, id int64) error {
	return s.evict(ctx,
		[]string{cache.Key(s.ns.Artist.Prefix, id)},
		s.ns.Song.Prefix, s.ns.SongList.Prefix, s.ns.Recommended.Prefix,
	)
}

// evict removes keys and namespaces, attempting all of them and combining
// the failures.
func (s *Service) evict(ctx context.Context, keys []string, prefixes ...string) error {
	var errs error
	for _, key := range keys {
		if _, err := s.client.Evict(ctx, key); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "evict %s", key))
		}
	}
	for _, prefix := range coveringPrefixes(prefixes...) {
		n, err := s.client.EvictNamespace(ctx, prefix)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "evict namespace %s", prefix))
			continue
		}
		s.logger.Debug("evicted %d keys under %s", n, prefix)
	}
	if errs != nil {
		s.logger.WithContext(ctx).Error("cache eviction incomplete: %s", errs)
	}
	return errs
}
