package crawl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/velskoi/spotsync/spotify/api"
	"github.com/velskoi/spotsync/spotify/types"
)

// Cover candidates below this edge length are rejected as thumbnails.
const minCoverEdge = 300

// page is a validated pagination envelope. limit, offset, and total are the
// server-reported values, not the requested ones.
type page struct {
	limit  int
	offset int
	total  int
	items  []gjson.Result
}

// parsePage validates the pagination envelope of a reply, descending into
// the first nested collection key that is present. All four envelope fields
// must be present; their absence is a schema error, never a default.
func parsePage(data []byte, unwrapKeys ...string) (*page, error) {
	obj, err := api.ExtractObject(data)
	if nil != err {
		return nil, err
	}

	for _, key := range unwrapKeys {
		if nested := api.UnwrapKey(obj, key); nested.Raw != obj.Raw {
			obj = nested

			break
		}
	}

	for _, field := range []string{"limit", "offset", "total"} {
		if !obj.Get(field).Exists() {
			return nil, fmt.Errorf("json reply is missing %s", field)
		}
	}

	items, err := api.ExtractItems(obj)
	if nil != err {
		return nil, err
	}

	return &page{
		limit:  int(obj.Get("limit").Int()),
		offset: int(obj.Get("offset").Int()),
		total:  int(obj.Get("total").Int()),
		items:  items,
	}, nil
}

// unwrapItem descends into the single-key "item" envelope some collection
// replies wrap their entries in. Entries without it are returned unchanged.
func unwrapItem(item gjson.Result) (gjson.Result, error) {
	if !item.IsObject() {
		return gjson.Result{}, fmt.Errorf("invalid json reply, item is not an object")
	}

	if nested := item.Get("item"); nested.Exists() {
		if !nested.IsObject() {
			return gjson.Result{}, fmt.Errorf("invalid json reply, item is not an object")
		}

		return nested, nil
	}

	return item, nil
}

// parseArtist extracts the identity of an artist item.
func parseArtist(obj gjson.Result) (types.Artist, error) {
	id := obj.Get("id")
	name := obj.Get("name")
	if !id.Exists() || !name.Exists() {
		return types.Artist{}, fmt.Errorf("invalid json reply, item is missing id or name")
	}

	return types.Artist{ID: id.String(), Name: name.String()}, nil
}

// parseAlbum extracts album identity from either shape the album tier can
// return: a direct album object, or a track item carrying an embedded
// "album" object. Explicit albums get the marker appended to their title so
// it survives into every child track.
func parseAlbum(obj gjson.Result, coverSize string) (types.Album, error) {
	if embedded := obj.Get("album"); embedded.IsObject() {
		obj = embedded
	}

	id := obj.Get("id")
	name := obj.Get("name")
	if !id.Exists() || !name.Exists() {
		return types.Album{}, fmt.Errorf("invalid json reply, item is missing id or name")
	}

	album := types.Album{
		ID:       id.String(),
		Title:    name.String(),
		CoverURL: selectCover(obj.Get("images"), coverSize),
		Explicit: obj.Get("explicit").Bool(),
	}
	if album.Explicit && !strings.Contains(strings.ToLower(album.Title), "explicit") {
		album.Title += " (Explicit)"
	}

	return album, nil
}

// selectCover picks the album cover candidate: the image matching the
// preferred size when one is present, otherwise the first image strictly
// larger than the thumbnail threshold on both edges. An empty string means
// no usable cover.
func selectCover(images gjson.Result, preferredSize string) string {
	if !images.IsArray() {
		return ""
	}

	prefW, prefH := parseCoverSize(preferredSize)

	var fallback string
	for _, img := range images.Array() {
		url := img.Get("url").String()
		if url == "" {
			continue
		}

		w, h := img.Get("width").Int(), img.Get("height").Int()
		if prefW > 0 && w == prefW && h == prefH {
			return url
		}

		if fallback == "" && w > minCoverEdge && h > minCoverEdge {
			fallback = url
		}
	}

	return fallback
}

// parseCoverSize parses a "640x640" style size. Zeroes mean no preference.
func parseCoverSize(s string) (int64, int64) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0
	}

	w, err := strconv.Atoi(ws)
	if nil != err {
		return 0, 0
	}

	h, err := strconv.Atoi(hs)
	if nil != err {
		return 0, 0
	}

	return int64(w), int64(h)
}

// parseTrack builds a track record from a track item, falling back to the
// crawl-context album and artist for fields the item does not carry itself.
func parseTrack(obj gjson.Result, albumArtist types.Artist, album types.Album, coverSize string) (types.Track, error) {
	for _, field := range []string{"type", "id", "name", "uri", "duration_ms", "track_number", "disc_number", "explicit"} {
		if !obj.Get(field).Exists() {
			return types.Track{}, fmt.Errorf("invalid json reply, item is missing %s", field)
		}
	}

	artist := albumArtist
	if artists := obj.Get("artists"); artists.IsArray() {
		for _, a := range artists.Array() {
			parsed, err := parseArtist(a)
			if nil != err {
				continue
			}

			artist = parsed

			break
		}
	}

	if embedded := obj.Get("album"); embedded.IsObject() {
		parsed, err := parseAlbum(embedded, coverSize)
		if nil == err {
			album = parsed
		}
	}

	title := obj.Get("name").String()
	if obj.Get("explicit").Bool() && !strings.Contains(strings.ToLower(title), "explicit") {
		title += " (Explicit)"
	}

	track := types.Track{ //nolint:exhaustruct
		ID:          obj.Get("id").String(),
		AlbumID:     album.ID,
		ArtistID:    artist.ID,
		Title:       title,
		Album:       album.Title,
		Artist:      artist.Name,
		TrackNumber: int(obj.Get("track_number").Int()),
		DiscNumber:  int(obj.Get("disc_number").Int()),
		Duration:    time.Duration(obj.Get("duration_ms").Int()) * time.Millisecond,
		StreamURI:   obj.Get("uri").String(),
		CoverRef:    album.CoverURL,
		Valid:       true,
	}

	if albumArtist.Name != "" && albumArtist.Name != artist.Name {
		track.AlbumArtist = albumArtist.Name
	}
	if strings.EqualFold(track.AlbumArtist, "various artists") ||
		strings.EqualFold(track.Artist, "various artists") {
		track.Compilation = true
	}

	return track, nil
}

// normalizeDiscs clears disc numbers across a page of tracks when nothing in
// it indicates a multi-disc release.
func normalizeDiscs(tracks []types.Track) {
	for _, t := range tracks {
		if t.DiscNumber >= 2 {
			return
		}
	}

	for i := range tracks {
		tracks[i].DiscNumber = 0
	}
}
