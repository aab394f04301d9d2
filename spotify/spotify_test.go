package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/velskoi/spotsync/cache"
	"github.com/velskoi/spotsync/config"
	"github.com/velskoi/spotsync/spotify/api"
	"github.com/velskoi/spotsync/spotify/auth"
	"github.com/velskoi/spotsync/spotify/crawl"
	"github.com/velskoi/spotsync/spotify/favorites"
	"github.com/velskoi/spotsync/spotify/fs"
	"github.com/velskoi/spotsync/spotify/types"
	"github.com/velskoi/spotsync/store"
)

func trackItem(id string, number int) string {
	return fmt.Sprintf(`{
		"type": "track", "id": %q, "name": "Track %s", "uri": "spotify:track:%s",
		"duration_ms": 1000, "track_number": %d, "disc_number": 1, "explicit": false,
		"artists": [{"id": "ar1", "name": "Artist"}]
	}`, id, id, id, number)
}

func pageEnvelope(offset, total int, items ...string) string {
	return fmt.Sprintf(
		`{"limit": 0, "offset": %d, "total": %d, "items": [%s]}`,
		offset, total, strings.Join(items, ","),
	)
}

// newTestService builds a Service against a scripted backend with a valid
// persisted token, so ensureSession passes without touching the network.
func newTestService(t *testing.T, srv *httptest.Server) *Service {
	t.Helper()

	credsDir := t.TempDir()
	require.NoError(t, fs.AuthFileFrom(credsDir, "token.json").Write(fs.AuthFileContent{
		AccessToken:  "test-token",
		RefreshToken: "test-refresh",
		ExpiresIn:    3600,
		LoginTime:    time.Now().Unix(),
	}))

	//nolint:exhaustruct
	conf := config.Spotify{
		Enabled:            true,
		ClientID:           "client-id",
		ClientSecret:       "client-secret",
		CredsDir:           credsDir,
		CoversDir:          t.TempDir(),
		ArtistsSearchLimit: 4,
		AlbumsSearchLimit:  10,
		SongsSearchLimit:   10,
		SearchDelayMS:      150,
	}

	a, err := auth.New(zerolog.Nop(), conf)
	require.NoError(t, err)

	db, err := store.Open(filepath.Join(t.TempDir(), "spotsync.db"))
	require.NoError(t, err)

	s := &Service{ //nolint:exhaustruct
		logger:       zerolog.Nop(),
		conf:         conf,
		auth:         a,
		cache:        cache.New(),
		store:        db,
		coverLimiter: rate.NewLimiter(rate.Every(coverDownloadInterval), 1),
		crawls:       make(map[types.QueryType]*crawlHandle),
	}
	s.api = api.NewClient(zerolog.Nop(), srv.URL, srv.Client(), a.AccessToken, a.Deauthenticate)
	s.favorites = favorites.New(zerolog.Nop(), s.api, s.favoritesAdded, s.favoritesRemoved)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestSyncSongsReplacesStoredCollection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Exactly(t, "/me/tracks", r.URL.Path)
		fmt.Fprint(w, pageEnvelope(0, 2, trackItem("t1", 1), trackItem("t2", 2)))
	}))
	defer srv.Close()

	s := newTestService(t, srv)
	require.NoError(t, s.store.Put(types.FavoriteSongs, []types.Track{
		{ID: "stale", Title: "Old", Valid: true}, //nolint:exhaustruct
	}))

	res, err := s.SyncSongs(testContext(t), crawl.Callbacks{}) //nolint:exhaustruct
	require.NoError(t, err)
	assert.Len(t, res.Tracks, 2)
	assert.Empty(t, res.Errors)

	stored, err := s.store.List(types.FavoriteSongs)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Contains(t, stored, "t1")
	assert.Contains(t, stored, "t2")
	assert.NotContains(t, stored, "stale")
}

func TestScheduleSearchRunsOnlyLastQuery(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Exactly(t, "/search", r.URL.Path)
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		fmt.Fprintf(w, `{"tracks": %s}`, pageEnvelope(0, 1, trackItem("t1", 1)))
	}))
	defer srv.Close()

	s := newTestService(t, srv)

	type outcome struct {
		res *crawl.Result
		err error
	}
	got := make(chan outcome, 2)
	deliver := func(res *crawl.Result, err error) {
		got <- outcome{res: res, err: err}
	}

	ctx := testContext(t)
	s.ScheduleSearch(ctx, types.QueryTypeSearchSongs, "first", crawl.Callbacks{}, deliver)  //nolint:exhaustruct
	s.ScheduleSearch(ctx, types.QueryTypeSearchSongs, "second", crawl.Callbacks{}, deliver) //nolint:exhaustruct

	select {
	case o := <-got:
		require.NoError(t, o.err)
		assert.Len(t, o.res.Tracks, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled search never delivered")
	}

	select {
	case <-got:
		t.Fatal("superseded search request was still delivered")
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Exactly(t, []string{"second"}, queries)
}

func TestCancelScheduledSearchStopsDelivery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %q", r.URL.Path)
	}))
	defer srv.Close()

	s := newTestService(t, srv)

	delivered := make(chan struct{}, 1)
	s.ScheduleSearch(testContext(t), types.QueryTypeSearchSongs, "text", crawl.Callbacks{}, func(*crawl.Result, error) { //nolint:exhaustruct
		delivered <- struct{}{}
	})
	s.CancelScheduledSearch()

	select {
	case <-delivered:
		t.Fatal("canceled search was still delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestQueriesRequireEnabledAuthenticatedSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %q", r.URL.Path)
	}))
	defer srv.Close()

	s := newTestService(t, srv)
	ctx := testContext(t)

	disabled := s.config()
	disabled.Enabled = false
	s.ReloadSettings(disabled)
	_, err := s.SyncSongs(ctx, crawl.Callbacks{}) //nolint:exhaustruct
	require.ErrorIs(t, err, ErrDisabled)

	disabled.Enabled = true
	s.ReloadSettings(disabled)
	s.auth.Deauthenticate()
	_, err = s.SyncSongs(ctx, crawl.Callbacks{}) //nolint:exhaustruct
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestFavoriteAndUnfavoriteKeepStoreInStep(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/me/favorites/tracks":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/me/favorites/tracks/t1":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %q", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := newTestService(t, srv)
	ctx := testContext(t)
	track := types.Track{ID: "t1", Title: "One", Valid: true} //nolint:exhaustruct

	require.NoError(t, s.Favorite(ctx, types.FavoriteSongs, []types.Track{track}))
	stored, err := s.store.List(types.FavoriteSongs)
	require.NoError(t, err)
	assert.Contains(t, stored, "t1")

	require.NoError(t, s.Unfavorite(ctx, types.FavoriteSongs, []types.Track{track}))
	stored, err = s.store.List(types.FavoriteSongs)
	require.NoError(t, err)
	assert.NotContains(t, stored, "t1")
}

func TestWithReauthPassesThroughPlainErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %q", r.URL.Path)
	}))
	defer srv.Close()

	s := newTestService(t, srv)
	ctx := testContext(t)

	bang := errors.New("boom")
	calls := 0
	err := s.withReauth(ctx, func(context.Context) error {
		calls++

		return bang
	})
	require.ErrorIs(t, err, bang)
	assert.Exactly(t, 1, calls)

	calls = 0
	require.NoError(t, s.withReauth(ctx, func(context.Context) error {
		calls++

		return nil
	}))
	assert.Exactly(t, 1, calls)
}
