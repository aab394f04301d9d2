package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velskoi/spotsync/store"
	"github.com/velskoi/spotsync/spotify/types"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	return s
}

//nolint:exhaustruct
func sampleTrack(id string) types.Track {
	return types.Track{
		ID:       id,
		Title:    "Title " + id,
		Artist:   "Artist " + id,
		ArtistID: "ar-" + id,
		Album:    "Album " + id,
		AlbumID:  "al-" + id,
		Duration: 3 * time.Minute,
		Valid:    true,
	}
}

func TestOpenCreatesEmptyCollections(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	for _, category := range []types.FavoriteCategory{
		types.FavoriteArtists,
		types.FavoriteAlbums,
		types.FavoriteSongs,
	} {
		tracks, err := s.List(category)
		require.NoError(t, err)
		assert.Empty(t, tracks)
	}
}

func TestReplaceAllSwapsCollection(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	first := types.TrackMap{
		"t1": sampleTrack("t1"),
		"t2": sampleTrack("t2"),
	}
	require.NoError(t, s.ReplaceAll(types.FavoriteSongs, first))

	got, err := s.List(types.FavoriteSongs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Exactly(t, first["t1"], got["t1"])

	second := types.TrackMap{"t3": sampleTrack("t3")}
	require.NoError(t, s.ReplaceAll(types.FavoriteSongs, second))

	got, err = s.List(types.FavoriteSongs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got, "t3")
}

func TestReplaceAllLeavesOtherCategoriesAlone(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	require.NoError(t, s.ReplaceAll(types.FavoriteAlbums, types.TrackMap{"t1": sampleTrack("t1")}))
	require.NoError(t, s.ReplaceAll(types.FavoriteSongs, types.TrackMap{}))

	got, err := s.List(types.FavoriteAlbums)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPutAndDeleteByTrackID(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	track := sampleTrack("t1")
	require.NoError(t, s.Put(types.FavoriteSongs, []types.Track{track}))

	got, err := s.List(types.FavoriteSongs)
	require.NoError(t, err)
	require.Contains(t, got, "t1")
	assert.Exactly(t, track, got["t1"])

	require.NoError(t, s.Delete(types.FavoriteSongs, []types.Track{track}))

	got, err = s.List(types.FavoriteSongs)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPutKeysByCategoryID(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	//nolint:exhaustruct
	artistOnly := types.Track{ArtistID: "ar9", Artist: "Nine"}
	require.NoError(t, s.Put(types.FavoriteArtists, []types.Track{artistOnly}))

	got, err := s.List(types.FavoriteArtists)
	require.NoError(t, err)
	assert.Contains(t, got, "ar9")

	//nolint:exhaustruct
	albumOnly := types.Track{AlbumID: "al9", Album: "Ninth"}
	require.NoError(t, s.Put(types.FavoriteAlbums, []types.Track{albumOnly}))

	got, err = s.List(types.FavoriteAlbums)
	require.NoError(t, err)
	assert.Contains(t, got, "al9")

	require.NoError(t, s.Delete(types.FavoriteAlbums, []types.Track{albumOnly}))

	got, err = s.List(types.FavoriteAlbums)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPutUpsertsExistingRecord(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	track := sampleTrack("t1")
	require.NoError(t, s.Put(types.FavoriteSongs, []types.Track{track}))

	track.Title = "Renamed"
	require.NoError(t, s.Put(types.FavoriteSongs, []types.Track{track}))

	got, err := s.List(types.FavoriteSongs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Exactly(t, "Renamed", got["t1"].Title)
}
