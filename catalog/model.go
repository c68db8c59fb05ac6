package catalog

import (
	"context"
	"strconv"

	"github.com/HongKai-hskd/vibeMusic/cache"
)

// Song is the cached song view. Field names match the JSON written by the
// other services that share the keyspace.
type Song struct {
	SongID      int64  `json:"songId" msgpack:"songId"`
	SongName    string `json:"songName" msgpack:"songName"`
	ArtistName  string `json:"artistName" msgpack:"artistName"`
	Album       string `json:"album,omitempty" msgpack:"album,omitempty"`
	Duration    string `json:"duration,omitempty" msgpack:"duration,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty" msgpack:"coverUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty" msgpack:"audioUrl,omitempty"`
	LikeStatus  int    `json:"likeStatus" msgpack:"likeStatus"`
	ReleaseTime string `json:"releaseTime,omitempty" msgpack:"releaseTime,omitempty"`
}

// SongPage is one page of a song listing.
type SongPage struct {
	Total int64  `json:"total" msgpack:"total"`
	Items []Song `json:"items" msgpack:"items"`
}

// Playlist is the cached playlist view with its songs.
type Playlist struct {
	PlaylistID   int64  `json:"playlistId" msgpack:"playlistId"`
	Title        string `json:"title" msgpack:"title"`
	CoverURL     string `json:"coverUrl,omitempty" msgpack:"coverUrl,omitempty"`
	Introduction string `json:"introduction,omitempty" msgpack:"introduction,omitempty"`
	Songs        []Song `json:"songs,omitempty" msgpack:"songs,omitempty"`
}

// Artist is the cached artist view.
type Artist struct {
	ArtistID   int64  `json:"artistId" msgpack:"artistId"`
	ArtistName string `json:"artistName" msgpack:"artistName"`
	Avatar     string `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
}

// Song listings default to the first page of twenty.
const (
	DefaultPageNum  = 1
	DefaultPageSize = 20
)

// SongQuery filters a song listing. Every field takes part in the cache key
// so different filters never share an entry.
type SongQuery struct {
	// UserID scopes the listing to a signed-in user, whose like status is
	// filled into every song. Zero is the anonymous listing.
	UserID     int64
	PageNum    int
	PageSize   int
	SongName   string
	ArtistName string
	Album      string
}

// Normalize fills in the default page.
func (q SongQuery) Normalize() SongQuery {
	if q.PageNum < 1 {
		q.PageNum = DefaultPageNum
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	return q
}

// Fingerprint is the cache identifier of the normalized query. A user-scoped
// query starts with the user segment, see UserScope.
func (q SongQuery) Fingerprint() string {
	q = q.Normalize()
	fp := cache.Fingerprint(q.PageNum, q.PageSize, q.SongName, q.Album, q.ArtistName)
	if q.UserID == 0 {
		return fp
	}
	return UserScope(q.UserID) + fp
}

// UserScope is the fingerprint prefix shared by every listing cached for
// userID. It stays outside the hashed part of long fingerprints so a user's
// listings can be evicted by prefix.
func UserScope(userID int64) string {
	return "u" + strconv.FormatInt(userID, 10) + ":"
}

// Repository is the system of record. The bool results report whether the
// record exists; a missing record is not an error.
type Repository interface {
	FindSong(ctx context.Context, id int64) (Song, bool, error)
	// ListSongs returns one page. For a user-scoped query the like status of
	// each song is the user's.
	ListSongs(ctx context.Context, q SongQuery) (SongPage, error)
	RecommendSongs(ctx context.Context, userID int64) ([]Song, error)
	FindPlaylist(ctx context.Context, id int64) (Playlist, bool, error)
	FindArtist(ctx context.Context, id int64) (Artist, bool, error)
}
