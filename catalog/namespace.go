package catalog

import (
	"strings"
	"time"

	"github.com/HongKai-hskd/vibeMusic/cache"
	"github.com/HongKai-hskd/vibeMusic/config"
)

// Key prefixes of the catalog namespaces. Song listings and recommendations
// sit under the song prefix so an artist change can evict them together.
const (
	SongPrefix        = "music:song:"
	SongListPrefix    = "music:song:list:"
	RecommendedPrefix = "music:song:recommended:"
	PlaylistPrefix    = "music:playlist:"
	ArtistPrefix      = "music:artist:"
)

// Namespace is a key prefix with its lifetime and read policy.
type Namespace struct {
	Prefix string
	TTL    time.Duration
	Policy cache.Policy
}

// Namespaces groups the catalog read paths.
type Namespaces struct {
	Song        Namespace
	SongList    Namespace
	Recommended Namespace
	Playlist    Namespace
	Artist      Namespace
}

// DefaultNamespaces returns the production prefixes and lifetimes.
func DefaultNamespaces() Namespaces {
	return Namespaces{
		Song:        Namespace{SongPrefix, 30 * time.Minute, cache.PolicyMutex},
		SongList:    Namespace{SongListPrefix, 30 * time.Minute, cache.PolicyPassThrough},
		Recommended: Namespace{RecommendedPrefix, 30 * time.Minute, cache.PolicyPassThrough},
		Playlist:    Namespace{PlaylistPrefix, 30 * time.Minute, cache.PolicyPassThrough},
		Artist:      Namespace{ArtistPrefix, 60 * time.Minute, cache.PolicyPassThrough},
	}
}

// NamespacesFromConfig applies the catalog section of cfg to the defaults.
func NamespacesFromConfig(cfg config.CatalogConfig) (Namespaces, error) {
	ns := DefaultNamespaces()
	ns.Song.TTL = cfg.SongTTL.Std()
	ns.SongList.TTL = cfg.SongListTTL.Std()
	ns.Recommended.TTL = cfg.RecommendTTL.Std()
	ns.Playlist.TTL = cfg.PlaylistTTL.Std()
	ns.Artist.TTL = cfg.ArtistTTL.Std()
	var err error
	if ns.Song.Policy, err = cache.ParsePolicy(cfg.SongPolicy); err != nil {
		return ns, err
	}
	if ns.Playlist.Policy, err = cache.ParsePolicy(cfg.PlaylistPolicy); err != nil {
		return ns, err
	}
	if ns.Artist.Policy, err = cache.ParsePolicy(cfg.ArtistPolicy); err != nil {
		return ns, err
	}
	return ns, nil
}

// coveringPrefixes drops every prefix already covered by a shorter one in
// the list, so namespace eviction scans each key once.
func coveringPrefixes(prefixes ...string) []string {
	out := make([]string, 0, len(prefixes))
	for i, p := range prefixes {
		covered := false
		for j, q := range prefixes {
			if i != j && strings.HasPrefix(p, q) && (len(q) < len(p) || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}
