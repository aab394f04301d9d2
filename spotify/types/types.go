package types

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// QueryType selects which resource tier a crawl starts from and whether it
// walks the user library or a text search.
type QueryType int

const (
	QueryTypeNone QueryType = iota
	QueryTypeArtists
	QueryTypeAlbums
	QueryTypeSongs
	QueryTypeSearchArtists
	QueryTypeSearchAlbums
	QueryTypeSearchSongs
)

func (t QueryType) String() string {
	switch t {
	case QueryTypeArtists:
		return "artists"
	case QueryTypeAlbums:
		return "albums"
	case QueryTypeSongs:
		return "songs"
	case QueryTypeSearchArtists:
		return "search-artists"
	case QueryTypeSearchAlbums:
		return "search-albums"
	case QueryTypeSearchSongs:
		return "search-songs"
	default:
		return "none"
	}
}

func (t QueryType) IsSearch() bool {
	switch t {
	case QueryTypeSearchArtists, QueryTypeSearchAlbums, QueryTypeSearchSongs:
		return true
	default:
		return false
	}
}

func (t QueryType) IsLibrary() bool {
	switch t {
	case QueryTypeArtists, QueryTypeAlbums, QueryTypeSongs:
		return true
	default:
		return false
	}
}

// Artist is ephemeral crawl state discovered from artist-tier pages.
type Artist struct {
	ID   string
	Name string
}

// Album is ephemeral crawl state discovered from album-tier pages or from
// album objects embedded in track items.
type Album struct {
	ID       string
	Title    string
	CoverURL string
	Explicit bool
}

// Track is the durable output unit of a crawl.
type Track struct {
	ID          string        `json:"id"`
	AlbumID     string        `json:"album_id"`
	ArtistID    string        `json:"artist_id"`
	Title       string        `json:"title"`
	Album       string        `json:"album"`
	Artist      string        `json:"artist"`
	AlbumArtist string        `json:"album_artist,omitempty"`
	TrackNumber int           `json:"track_number"`
	DiscNumber  int           `json:"disc_number"`
	Duration    time.Duration `json:"duration_ns"`
	StreamURI   string        `json:"stream_uri"`
	CoverRef    string        `json:"cover_ref,omitempty"`
	Compilation bool          `json:"compilation,omitempty"`
	Valid       bool          `json:"valid"`
}

func (t Track) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("id", t.ID).
		Str("artist", t.Artist).
		Str("album", t.Album).
		Str("title", t.Title)
}

// TrackMap is a crawl result set keyed by source track id.
type TrackMap map[string]Track

func (m TrackMap) IDs() []string {
	return lo.Keys(m)
}

func (m TrackMap) Tracks() []Track {
	return lo.Values(m)
}

// FavoriteCategory selects which remote favorites collection a mutation
// targets.
type FavoriteCategory int

const (
	FavoriteArtists FavoriteCategory = iota
	FavoriteAlbums
	FavoriteSongs
)

func (c FavoriteCategory) String() string {
	switch c {
	case FavoriteArtists:
		return "artists"
	case FavoriteAlbums:
		return "albums"
	case FavoriteSongs:
		return "songs"
	default:
		return "unknown"
	}
}
