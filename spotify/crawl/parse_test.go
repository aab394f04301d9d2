package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/velskoi/spotsync/spotify/types"
)

func TestParsePage(t *testing.T) {
	t.Parallel()

	t.Run("valid envelope", func(t *testing.T) {
		t.Parallel()

		pg, err := parsePage([]byte(`{"limit":10,"offset":20,"total":55,"items":[{"id":"a"},{"id":"b"}]}`))
		require.NoError(t, err)
		assert.Exactly(t, 10, pg.limit)
		assert.Exactly(t, 20, pg.offset)
		assert.Exactly(t, 55, pg.total)
		assert.Len(t, pg.items, 2)
	})

	t.Run("nested collection key", func(t *testing.T) {
		t.Parallel()

		pg, err := parsePage(
			[]byte(`{"artists":{"limit":0,"offset":0,"total":1,"items":[{"id":"a"}]}}`),
			"artists",
		)
		require.NoError(t, err)
		assert.Exactly(t, 1, pg.total)
		assert.Len(t, pg.items, 1)
	})

	t.Run("first matching key wins", func(t *testing.T) {
		t.Parallel()

		pg, err := parsePage(
			[]byte(`{"tracks":{"limit":0,"offset":0,"total":3,"items":[]}}`),
			"albums", "tracks",
		)
		require.NoError(t, err)
		assert.Exactly(t, 3, pg.total)
	})

	t.Run("missing envelope field", func(t *testing.T) {
		t.Parallel()

		_, err := parsePage([]byte(`{"limit":10,"offset":0,"items":[]}`))
		assert.ErrorContains(t, err, "missing total")
	})

	t.Run("missing items", func(t *testing.T) {
		t.Parallel()

		_, err := parsePage([]byte(`{"limit":10,"offset":0,"total":5}`))
		assert.ErrorContains(t, err, "items")
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()

		_, err := parsePage([]byte(`{"limit":`))
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()

		_, err := parsePage(nil)
		assert.Error(t, err)
	})
}

func TestParseTrack(t *testing.T) {
	t.Parallel()

	const trackJSON = `{
		"type": "track",
		"id": "t1",
		"name": "Song One",
		"uri": "spotify:track:t1",
		"duration_ms": 215000,
		"track_number": 3,
		"disc_number": 1,
		"explicit": false,
		"artists": [{"id": "ar1", "name": "First Artist"}, {"id": "ar2", "name": "Second Artist"}]
	}`

	t.Run("first artist wins", func(t *testing.T) {
		t.Parallel()

		track, err := parseTrack(gjson.Parse(trackJSON), types.Artist{}, types.Album{ID: "al1", Title: "Album"}, "")
		require.NoError(t, err)
		assert.Exactly(t, "First Artist", track.Artist)
		assert.Exactly(t, "ar1", track.ArtistID)
		assert.Exactly(t, "al1", track.AlbumID)
		assert.Exactly(t, 3, track.TrackNumber)
		assert.Exactly(t, 215*time.Second, track.Duration)
		assert.Exactly(t, "spotify:track:t1", track.StreamURI)
		assert.True(t, track.Valid)
		assert.Empty(t, track.AlbumArtist)
	})

	t.Run("album artist recorded only when differing", func(t *testing.T) {
		t.Parallel()

		album := types.Album{ID: "al1", Title: "Album"}

		track, err := parseTrack(gjson.Parse(trackJSON), types.Artist{ID: "ar9", Name: "Album Owner"}, album, "")
		require.NoError(t, err)
		assert.Exactly(t, "Album Owner", track.AlbumArtist)

		same, err := parseTrack(gjson.Parse(trackJSON), types.Artist{ID: "ar1", Name: "First Artist"}, album, "")
		require.NoError(t, err)
		assert.Empty(t, same.AlbumArtist)
	})

	t.Run("explicit title suffix", func(t *testing.T) {
		t.Parallel()

		explicit := `{
			"type": "track", "id": "t2", "name": "Raw", "uri": "u",
			"duration_ms": 1000, "track_number": 1, "disc_number": 1, "explicit": true
		}`
		track, err := parseTrack(gjson.Parse(explicit), types.Artist{Name: "A"}, types.Album{}, "")
		require.NoError(t, err)
		assert.Exactly(t, "Raw (Explicit)", track.Title)
	})

	t.Run("compilation detected from album artist", func(t *testing.T) {
		t.Parallel()

		track, err := parseTrack(
			gjson.Parse(trackJSON),
			types.Artist{ID: "va", Name: "Various Artists"},
			types.Album{ID: "al1", Title: "Hits"},
			"",
		)
		require.NoError(t, err)
		assert.True(t, track.Compilation)
	})

	t.Run("missing required field", func(t *testing.T) {
		t.Parallel()

		_, err := parseTrack(gjson.Parse(`{"type":"track","id":"t3","name":"x"}`), types.Artist{}, types.Album{}, "")
		assert.ErrorContains(t, err, "missing uri")
	})

	t.Run("embedded album overrides context", func(t *testing.T) {
		t.Parallel()

		withAlbum := `{
			"type": "track", "id": "t4", "name": "N", "uri": "u",
			"duration_ms": 1000, "track_number": 1, "disc_number": 1, "explicit": false,
			"album": {"id": "al9", "name": "Embedded"}
		}`
		track, err := parseTrack(gjson.Parse(withAlbum), types.Artist{}, types.Album{ID: "al1", Title: "Context"}, "")
		require.NoError(t, err)
		assert.Exactly(t, "al9", track.AlbumID)
		assert.Exactly(t, "Embedded", track.Album)
	})
}

func TestParseAlbum(t *testing.T) {
	t.Parallel()

	t.Run("direct album object", func(t *testing.T) {
		t.Parallel()

		album, err := parseAlbum(gjson.Parse(`{"id":"al1","name":"Record","explicit":false}`), "")
		require.NoError(t, err)
		assert.Exactly(t, "al1", album.ID)
		assert.Exactly(t, "Record", album.Title)
	})

	t.Run("track item with embedded album", func(t *testing.T) {
		t.Parallel()

		album, err := parseAlbum(gjson.Parse(`{"id":"t1","name":"Song","album":{"id":"al2","name":"Inner"}}`), "")
		require.NoError(t, err)
		assert.Exactly(t, "al2", album.ID)
		assert.Exactly(t, "Inner", album.Title)
	})

	t.Run("explicit marker appended once", func(t *testing.T) {
		t.Parallel()

		album, err := parseAlbum(gjson.Parse(`{"id":"al3","name":"Loud","explicit":true}`), "")
		require.NoError(t, err)
		assert.Exactly(t, "Loud (Explicit)", album.Title)

		already, err := parseAlbum(gjson.Parse(`{"id":"al4","name":"Loud (Explicit)","explicit":true}`), "")
		require.NoError(t, err)
		assert.Exactly(t, "Loud (Explicit)", already.Title)
	})

	t.Run("missing identity", func(t *testing.T) {
		t.Parallel()

		_, err := parseAlbum(gjson.Parse(`{"name":"No ID"}`), "")
		assert.Error(t, err)
	})
}

func TestSelectCover(t *testing.T) {
	t.Parallel()

	images := gjson.Parse(`[
		{"url": "https://img/small", "width": 64, "height": 64},
		{"url": "https://img/wide", "width": 640, "height": 300},
		{"url": "https://img/big", "width": 640, "height": 640},
		{"url": "https://img/huge", "width": 1280, "height": 1280}
	]`)
	assert.Exactly(t, "https://img/big", selectCover(images, ""))
	assert.Exactly(t, "https://img/huge", selectCover(images, "1280x1280"))
	assert.Exactly(t, "https://img/big", selectCover(images, "999x999"), "unmatched preference falls back to threshold rule")
	assert.Exactly(t, "https://img/big", selectCover(images, "garbage"))

	assert.Empty(t, selectCover(gjson.Parse(`[]`), ""))
	assert.Empty(t, selectCover(gjson.Parse(`[{"url":"https://img/thumb","width":300,"height":300}]`), ""))
	assert.Empty(t, selectCover(gjson.Parse(`"not an array"`), ""))
}

func TestNormalizeDiscs(t *testing.T) {
	t.Parallel()

	single := []types.Track{
		{ID: "a", DiscNumber: 1}, //nolint:exhaustruct
		{ID: "b", DiscNumber: 1}, //nolint:exhaustruct
	}
	normalizeDiscs(single)
	assert.Exactly(t, 0, single[0].DiscNumber)
	assert.Exactly(t, 0, single[1].DiscNumber)

	multi := []types.Track{
		{ID: "a", DiscNumber: 1}, //nolint:exhaustruct
		{ID: "b", DiscNumber: 2}, //nolint:exhaustruct
	}
	normalizeDiscs(multi)
	assert.Exactly(t, 1, multi[0].DiscNumber)
	assert.Exactly(t, 2, multi[1].DiscNumber)
}

func TestUnwrapItem(t *testing.T) {
	t.Parallel()

	inner, err := unwrapItem(gjson.Parse(`{"item":{"id":"x"}}`))
	require.NoError(t, err)
	assert.Exactly(t, "x", inner.Get("id").String())

	direct, err := unwrapItem(gjson.Parse(`{"id":"y"}`))
	require.NoError(t, err)
	assert.Exactly(t, "y", direct.Get("id").String())

	_, err = unwrapItem(gjson.Parse(`"scalar"`))
	assert.Error(t, err)

	_, err = unwrapItem(gjson.Parse(`{"item": 42}`))
	assert.Error(t, err)
}
