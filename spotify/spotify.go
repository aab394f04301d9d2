// Package spotify wires the authentication lifecycle, transport client,
// crawl engine, favorites component, and local track store into one
// explicitly constructed service with a clearly owned lifetime.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
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

var (
	ErrDisabled         = errors.New("spotify is disabled in configuration")
	ErrNotAuthenticated = errors.New("not authenticated, login first")
)

// Covers come from a CDN that tolerates little; pace the single-slot queue.
const coverDownloadInterval = 500 * time.Millisecond

type Service struct {
	logger zerolog.Logger

	confMu sync.RWMutex
	conf   config.Spotify

	auth      *auth.Auth
	api       *api.Client
	cache     *cache.Cache
	store     *store.Store
	favorites *favorites.Favorites

	coverLimiter *rate.Limiter

	crawlMu sync.Mutex
	crawls  map[types.QueryType]*crawlHandle

	searchMu    sync.Mutex
	searchTimer *time.Timer
}

type crawlHandle struct {
	cancel context.CancelFunc
}

func New(logger zerolog.Logger, conf *config.Config) (*Service, error) {
	a, err := auth.New(logger, conf.Spotify)
	if nil != err {
		return nil, fmt.Errorf("failed to initialize auth: %v", err)
	}

	db, err := store.Open(conf.Store.Path)
	if nil != err {
		return nil, fmt.Errorf("failed to open track store: %v", err)
	}

	s := &Service{ //nolint:exhaustruct
		logger:       logger,
		conf:         conf.Spotify,
		auth:         a,
		cache:        cache.New(),
		store:        db,
		coverLimiter: rate.NewLimiter(rate.Every(coverDownloadInterval), 1),
		crawls:       make(map[types.QueryType]*crawlHandle),
	}
	s.api = api.NewClient(logger, api.DefaultBaseURL, nil, a.AccessToken, a.Deauthenticate)
	s.favorites = favorites.New(logger, s.api, s.favoritesAdded, s.favoritesRemoved)

	return s, nil
}

func (s *Service) Close() error {
	s.CancelScheduledSearch()

	return s.store.Close()
}

func (s *Service) config() config.Spotify {
	s.confMu.RLock()
	defer s.confMu.RUnlock()

	return s.conf
}

// ReloadSettings swaps the service configuration. In-flight crawls keep the
// options they started with.
func (s *Service) ReloadSettings(conf config.Spotify) {
	s.confMu.Lock()
	s.conf = conf
	s.confMu.Unlock()
	s.logger.Debug().Msg("Reloaded settings")
}

func (s *Service) Auth() *auth.Auth {
	return s.auth
}

func (s *Service) Store() *store.Store {
	return s.store
}

// ensureSession verifies the service is usable and refreshes the token ahead
// of time when it is about to expire.
func (s *Service) ensureSession(ctx context.Context) error {
	if !s.config().Enabled {
		return ErrDisabled
	}

	if !s.auth.Authenticated() {
		return ErrNotAuthenticated
	}

	if s.auth.RefreshDue() {
		if err := s.auth.RefreshToken(ctx, s.logger); nil != err && !errors.Is(err, auth.ErrTokenRefreshInProgress) {
			return fmt.Errorf("failed to refresh auth token: %w", err)
		}
	}

	return nil
}

// withReauth runs op and, when the server reports the session invalid,
// refreshes the token once and retries.
func (s *Service) withReauth(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if api.KindOf(err) != api.ErrAuthRequired {
			return err
		}

		if refreshErr := s.auth.RefreshToken(ctx, s.logger); nil != refreshErr {
			return errors.Join(err, refreshErr)
		}

		return retry.RetryableError(err)
	})
}

// beginCrawl registers a new crawl of the tier, cancelling any previous
// in-flight crawl of the same tier so the latest request wins.
func (s *Service) beginCrawl(queryType types.QueryType, h *crawlHandle) {
	s.crawlMu.Lock()
	defer s.crawlMu.Unlock()

	if prev, ok := s.crawls[queryType]; ok {
		prev.cancel()
	}
	s.crawls[queryType] = h
}

func (s *Service) endCrawl(queryType types.QueryType, h *crawlHandle) {
	s.crawlMu.Lock()
	if s.crawls[queryType] == h {
		delete(s.crawls, queryType)
	}
	s.crawlMu.Unlock()
	h.cancel()
}

func (s *Service) runQuery(ctx context.Context, queryType types.QueryType, text string, cb crawl.Callbacks) (*crawl.Result, error) {
	if err := s.ensureSession(ctx); nil != err {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &crawlHandle{cancel: cancel}
	s.beginCrawl(queryType, h)
	defer s.endCrawl(queryType, h)

	conf := s.config()
	c := crawl.New(s.logger, s.api, crawl.Options{
		Type:           queryType,
		SearchText:     text,
		FetchAlbums:    conf.FetchAlbums,
		DownloadCovers: conf.DownloadCovers,
		CoverSize:      conf.CoverSize,
		ArtistsLimit:   conf.ArtistsSearchLimit,
		AlbumsLimit:    conf.AlbumsSearchLimit,
		SongsLimit:     conf.SongsSearchLimit,
		CoversDir:      fs.CoversDirFrom(conf.CoversDir),
		CoverClient:    nil,
		CoverCache:     &s.cache.Covers,
		CoverRateLimit: s.coverLimiter,
		Callbacks:      cb,
	})

	return c.Run(ctx)
}

// sync crawls a library tier and replaces the corresponding local collection
// with the result set.
func (s *Service) sync(ctx context.Context, queryType types.QueryType, category types.FavoriteCategory, cb crawl.Callbacks) (*crawl.Result, error) {
	res, err := s.runQuery(ctx, queryType, "", cb)
	if nil != err {
		return nil, err
	}

	if err := s.store.ReplaceAll(category, res.Tracks); nil != err {
		return nil, fmt.Errorf("failed to persist %s: %v", category, err)
	}

	s.logger.Debug().Strs("track_ids", res.Tracks.IDs()).Msg("Replaced stored collection")
	s.logger.Info().
		Str("collection", category.String()).
		Int("tracks", len(res.Tracks)).
		Int("errors", len(res.Errors)).
		Msg("Synced collection")

	return res, nil
}

func (s *Service) SyncArtists(ctx context.Context, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.sync(ctx, types.QueryTypeArtists, types.FavoriteArtists, cb)
}

func (s *Service) SyncAlbums(ctx context.Context, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.sync(ctx, types.QueryTypeAlbums, types.FavoriteAlbums, cb)
}

func (s *Service) SyncSongs(ctx context.Context, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.sync(ctx, types.QueryTypeSongs, types.FavoriteSongs, cb)
}

func (s *Service) SearchArtists(ctx context.Context, text string, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.runQuery(ctx, types.QueryTypeSearchArtists, text, cb)
}

func (s *Service) SearchAlbums(ctx context.Context, text string, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.runQuery(ctx, types.QueryTypeSearchAlbums, text, cb)
}

func (s *Service) SearchSongs(ctx context.Context, text string, cb crawl.Callbacks) (*crawl.Result, error) {
	return s.runQuery(ctx, types.QueryTypeSearchSongs, text, cb)
}

// ScheduleSearch debounces rapid consecutive search requests: each call
// resets the delay timer, and only the last request actually runs. The
// outcome is delivered through deliver on the timer goroutine.
func (s *Service) ScheduleSearch(
	ctx context.Context,
	queryType types.QueryType,
	text string,
	cb crawl.Callbacks,
	deliver func(*crawl.Result, error),
) {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	if s.searchTimer != nil {
		s.searchTimer.Stop()
	}

	s.searchTimer = time.AfterFunc(s.config().SearchDelay(), func() {
		deliver(s.runQuery(ctx, queryType, text, cb))
	})
}

func (s *Service) CancelScheduledSearch() {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
}

func (s *Service) Favorite(ctx context.Context, category types.FavoriteCategory, tracks []types.Track) error {
	if err := s.ensureSession(ctx); nil != err {
		return err
	}

	return s.withReauth(ctx, func(ctx context.Context) error {
		return s.favorites.Add(ctx, category, tracks)
	})
}

func (s *Service) Unfavorite(ctx context.Context, category types.FavoriteCategory, tracks []types.Track) error {
	if err := s.ensureSession(ctx); nil != err {
		return err
	}

	return s.withReauth(ctx, func(ctx context.Context) error {
		return s.favorites.Remove(ctx, category, tracks)
	})
}

func (s *Service) favoritesAdded(category types.FavoriteCategory, tracks []types.Track) {
	if err := s.store.Put(category, tracks); nil != err {
		s.logger.Error().Err(err).Str("category", category.String()).Msg("Failed to persist added favorites")
	}
}

func (s *Service) favoritesRemoved(category types.FavoriteCategory, tracks []types.Track) {
	if err := s.store.Delete(category, tracks); nil != err {
		s.logger.Error().Err(err).Str("category", category.String()).Msg("Failed to remove favorites from store")
	}
}
