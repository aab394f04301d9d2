// Package crawl implements the multi-tier catalog walk: a single event loop
// goroutine owns every queue, counter, and accumulator, while spawned fetch
// goroutines deliver their outcomes back to it as completion events. Nothing
// in here needs a lock.
package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/velskoi/spotsync/cache"
	"github.com/velskoi/spotsync/spotify/api"
	"github.com/velskoi/spotsync/spotify/fs"
	"github.com/velskoi/spotsync/spotify/types"
)

// At most this many page fetches are in flight per tier. Covers are fetched
// strictly one at a time.
const (
	maxConcurrentPages  = 3
	maxConcurrentCovers = 1
)

// Callbacks receive user-facing progress while a crawl runs. Any of them may
// be nil. They are invoked from the crawl's event loop goroutine.
type Callbacks struct {
	Status      func(text string)
	ProgressMax func(max int)
	Progress    func(current int)
}

type Options struct {
	Type           types.QueryType
	SearchText     string
	FetchAlbums    bool
	DownloadCovers bool
	CoverSize      string
	ArtistsLimit   int
	AlbumsLimit    int
	SongsLimit     int
	CoversDir      fs.CoversDir
	CoverClient    *http.Client
	CoverCache     *cache.CoversCache
	CoverRateLimit *rate.Limiter
	Callbacks      Callbacks
}

// Result is the terminal outcome of a crawl. Tracks and Errors are not
// mutually exclusive: pages can fail while siblings succeed.
type Result struct {
	Tracks    types.TrackMap
	Errors    []string
	NoResults bool
}

// Summary renders the outcome message. Empty means clean success; a search
// that matched nothing reports it explicitly, while an empty library is not
// an error.
func (r *Result) Summary(search bool) string {
	if r.NoResults && len(r.Tracks) == 0 {
		if search {
			return "No match."
		}

		return ""
	}

	if len(r.Tracks) == 0 && len(r.Errors) == 0 {
		return "Unknown error"
	}

	return strings.Join(r.Errors, "\n")
}

type pageRequest struct {
	offset int
	limit  int
}

type artistAlbumsRequest struct {
	artist types.Artist
	offset int
}

type albumSongsRequest struct {
	artist types.Artist
	album  types.Album
	offset int
}

type coverRequest struct {
	albumID string
	url     string
}

type Crawl struct {
	logger zerolog.Logger
	api    *api.Client
	opts   Options

	ctx    context.Context
	events chan func()

	artistsQ      *requestQueue[pageRequest]
	albumsQ       *requestQueue[pageRequest]
	songsQ        *requestQueue[pageRequest]
	artistAlbumsQ *requestQueue[artistAlbumsRequest]
	albumSongsQ   *requestQueue[albumSongsRequest]
	coversQ       *requestQueue[coverRequest]

	artistsTotal    int
	artistsReceived int

	artistAlbumsRequested int
	artistAlbumsReceived  int
	albumSongsRequested   int
	albumSongsReceived    int
	coversRequested       int
	coversReceived        int

	pendingArtistAlbums map[string]types.Artist
	pendingAlbumSongs   map[string]albumSongsRequest
	coversSent          map[string][]string

	tracks    types.TrackMap
	errs      []string
	noResults bool
	finished  bool
}

func New(logger zerolog.Logger, client *api.Client, opts Options) *Crawl {
	if opts.CoverClient == nil {
		opts.CoverClient = &http.Client{Timeout: 30 * time.Second} //nolint:exhaustruct
	}

	return &Crawl{ //nolint:exhaustruct
		logger:              logger,
		api:                 client,
		opts:                opts,
		events:              make(chan func(), 16),
		artistsQ:            newRequestQueue[pageRequest](maxConcurrentPages),
		albumsQ:             newRequestQueue[pageRequest](maxConcurrentPages),
		songsQ:              newRequestQueue[pageRequest](maxConcurrentPages),
		artistAlbumsQ:       newRequestQueue[artistAlbumsRequest](maxConcurrentPages),
		albumSongsQ:         newRequestQueue[albumSongsRequest](maxConcurrentPages),
		coversQ:             newRequestQueue[coverRequest](maxConcurrentCovers),
		pendingArtistAlbums: make(map[string]types.Artist),
		pendingAlbumSongs:   make(map[string]albumSongsRequest),
		coversSent:          make(map[string][]string),
		tracks:              make(types.TrackMap),
	}
}

// Run walks the catalog to completion. It returns ctx.Err when ctx is
// canceled; every other failure mode accumulates into the Result instead.
// Run must be called at most once per Crawl.
func (c *Crawl) Run(ctx context.Context) (*Result, error) {
	c.ctx = ctx
	c.start()

	for !c.finished {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case fn := <-c.events:
			fn()
		}
	}

	return &Result{
		Tracks:    c.tracks,
		Errors:    c.errs,
		NoResults: c.noResults,
	}, nil
}

// post hands a completion event to the loop goroutine. Completions arriving
// after cancellation are dropped.
func (c *Crawl) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Crawl) start() {
	switch c.opts.Type {
	case types.QueryTypeArtists:
		c.status("Receiving artists...")
		c.addArtistsRequest(0, 0)
	case types.QueryTypeAlbums:
		c.status("Receiving albums...")
		c.addAlbumsRequest(0, 0)
	case types.QueryTypeSongs:
		c.status("Receiving songs...")
		c.addSongsRequest(0, 0)
	case types.QueryTypeSearchArtists:
		c.status("Searching...")
		c.addArtistsRequest(0, c.opts.ArtistsLimit)
	case types.QueryTypeSearchAlbums:
		c.status("Searching...")
		c.addAlbumsRequest(0, c.opts.AlbumsLimit)
	case types.QueryTypeSearchSongs:
		c.status("Searching...")
		c.addSongsRequest(0, c.opts.SongsLimit)
	case types.QueryTypeNone:
		c.post(c.finish)
	}
}

// finish forces termination with whatever has accumulated so far.
func (c *Crawl) finish() {
	c.finished = true
}

func (c *Crawl) status(format string, args ...any) {
	if c.opts.Callbacks.Status != nil {
		c.opts.Callbacks.Status(fmt.Sprintf(format, args...))
	}
}

func (c *Crawl) progressMax(max int) {
	if c.opts.Callbacks.ProgressMax != nil {
		c.opts.Callbacks.ProgressMax(max)
	}
}

func (c *Crawl) progress(current int) {
	if c.opts.Callbacks.Progress != nil {
		c.opts.Callbacks.Progress(current)
	}
}

func (c *Crawl) recordError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Warn().Str("query", c.opts.Type.String()).Msg(msg)
	c.errs = append(c.errs, msg)
}

// fetchTier fetches one page of a top-level tier, going through the search
// endpoint for search queries and the library endpoint otherwise.
func (c *Crawl) fetchTier(req pageRequest, searchType, libraryResource string) ([]byte, error) {
	params := url.Values{}
	resource := libraryResource
	if c.opts.Type.IsSearch() {
		resource = "search"
		params.Set("q", c.opts.SearchText)
		params.Set("type", searchType)
	}

	if req.limit > 0 {
		params.Set("limit", strconv.Itoa(req.limit))
	}

	if req.offset > 0 {
		params.Set("offset", strconv.Itoa(req.offset))
	}

	return c.api.Get(c.ctx, resource, params)
}

// Artists tier.

func (c *Crawl) addArtistsRequest(offset, limit int) {
	c.artistsQ.push(pageRequest{offset: offset, limit: limit})
	c.flushArtists()
}

func (c *Crawl) flushArtists() {
	c.artistsQ.flush(func(req pageRequest) {
		go func() {
			data, err := c.fetchTier(req, "artist", "me/artists")
			c.post(func() { c.artistsPageReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) artistsPageReceived(req pageRequest, data []byte, err error) {
	c.artistsQ.done()
	if c.finished {
		return
	}

	if nil != err {
		c.recordError("%v", err)
		c.artistsDrain()

		return
	}

	pg, err := parsePage(data, "artists")
	if nil != err {
		c.recordError("%v", err)
		c.artistsDrain()

		return
	}

	if req.offset == 0 {
		c.artistsTotal = pg.total
		c.progressMax(c.artistsTotal)
	} else if pg.total != c.artistsTotal {
		c.recordError("total returned does not match previous total! %d != %d", pg.total, c.artistsTotal)
		c.artistsDrain()

		return
	}

	if pg.offset != req.offset {
		c.recordError("offset returned does not match offset requested! %d != %d", pg.offset, req.offset)
		c.artistsDrain()

		return
	}

	if len(pg.items) == 0 {
		if req.offset == 0 {
			c.noResults = true
		}

		c.artistsDrain()

		return
	}

	for _, item := range pg.items {
		obj, itemErr := unwrapItem(item)
		if nil != itemErr {
			c.recordError("%v", itemErr)

			continue
		}

		artist, parseErr := parseArtist(obj)
		if nil != parseErr {
			c.recordError("%v", parseErr)

			continue
		}

		if _, ok := c.pendingArtistAlbums[artist.ID]; !ok {
			c.pendingArtistAlbums[artist.ID] = artist
		}
	}

	c.artistsReceived += len(pg.items)
	c.progress(c.artistsReceived)
	c.artistsFinishCheck(req, len(pg.items))
}

// artistsFinishCheck paginates after a successful page. Erroneous pages are
// terminal and go through artistsDrain directly.
func (c *Crawl) artistsFinishCheck(req pageRequest, received int) {
	if c.finished {
		return
	}

	if (req.limit == 0 || req.limit > received) && c.artistsReceived < c.artistsTotal {
		if next := req.offset + received; next > 0 && next < c.artistsTotal {
			c.addArtistsRequest(next, req.limit)
		}
	}

	c.artistsDrain()
}

func (c *Crawl) artistsDrain() {
	if c.finished {
		return
	}

	c.flushArtists()

	if c.artistsQ.idle() && len(c.pendingArtistAlbums) > 0 {
		c.status("Receiving albums for %d artist(s)...", len(c.pendingArtistAlbums))
		c.progressMax(len(c.pendingArtistAlbums))
		c.progress(0)
		for _, artist := range c.pendingArtistAlbums {
			c.addArtistAlbumsRequest(artistAlbumsRequest{artist: artist, offset: 0})
		}
		c.pendingArtistAlbums = make(map[string]types.Artist)
	}

	c.finishCheck()
}

// Artist-albums tier.

func (c *Crawl) addArtistAlbumsRequest(req artistAlbumsRequest) {
	c.artistAlbumsRequested++
	c.artistAlbumsQ.push(req)
	c.flushArtistAlbums()
}

func (c *Crawl) flushArtistAlbums() {
	c.artistAlbumsQ.flush(func(req artistAlbumsRequest) {
		go func() {
			params := url.Values{}
			if req.offset > 0 {
				params.Set("offset", strconv.Itoa(req.offset))
			}

			data, err := c.api.Get(c.ctx, "artists/"+req.artist.ID+"/albums", params)
			c.post(func() { c.artistAlbumsPageReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) artistAlbumsPageReceived(req artistAlbumsRequest, data []byte, err error) {
	c.artistAlbumsQ.done()
	c.artistAlbumsReceived++
	if c.finished {
		return
	}

	c.progress(c.artistAlbumsReceived)
	c.albumsReceived(req.artist, pageRequest{offset: req.offset, limit: 0}, data, err)
}

// Albums tier.

func (c *Crawl) addAlbumsRequest(offset, limit int) {
	c.albumsQ.push(pageRequest{offset: offset, limit: limit})
	c.flushAlbums()
}

func (c *Crawl) flushAlbums() {
	c.albumsQ.flush(func(req pageRequest) {
		go func() {
			data, err := c.fetchTier(req, "album", "me/albums")
			c.post(func() { c.albumsPageReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) albumsPageReceived(req pageRequest, data []byte, err error) {
	c.albumsQ.done()
	c.albumsReceived(types.Artist{}, req, data, err)
}

// albumsReceived handles one page of albums regardless of which queue it came
// through: the top album tier, an artist's album list, or a song search in
// fetch-albums mode where every track item carries its album.
func (c *Crawl) albumsReceived(artist types.Artist, req pageRequest, data []byte, err error) {
	if c.finished {
		return
	}

	if nil != err {
		c.recordError("%v", err)
		c.albumsDrain()

		return
	}

	pg, err := parsePage(data, "albums", "tracks")
	if nil != err {
		c.recordError("%v", err)
		c.albumsDrain()

		return
	}

	if pg.offset != req.offset {
		c.recordError("offset returned does not match offset requested! %d != %d", pg.offset, req.offset)
		c.albumsDrain()

		return
	}

	if len(pg.items) == 0 {
		if req.offset == 0 && artist.ID == "" {
			c.noResults = true
		}

		c.albumsDrain()

		return
	}

	for _, item := range pg.items {
		obj, itemErr := unwrapItem(item)
		if nil != itemErr {
			c.recordError("%v", itemErr)

			continue
		}

		album, parseErr := parseAlbum(obj, c.opts.CoverSize)
		if nil != parseErr {
			c.recordError("%v", parseErr)

			continue
		}

		albumArtist := artist
		if albumArtist.ID == "" {
			if artists := obj.Get("artists"); artists.IsArray() {
				for _, a := range artists.Array() {
					parsed, artistErr := parseArtist(a)
					if nil != artistErr {
						continue
					}

					albumArtist = parsed

					break
				}
			}
		}

		if _, ok := c.pendingAlbumSongs[album.ID]; !ok {
			c.pendingAlbumSongs[album.ID] = albumSongsRequest{artist: albumArtist, album: album, offset: 0}
		}
	}

	c.albumsFinishCheck(artist, req, pg.total, len(pg.items))
}

func (c *Crawl) albumsFinishCheck(artist types.Artist, req pageRequest, total, received int) {
	if c.finished {
		return
	}

	if req.limit == 0 || req.limit > received {
		if next := req.offset + received; next > 0 && next < total {
			switch c.opts.Type {
			case types.QueryTypeAlbums, types.QueryTypeSearchAlbums:
				c.addAlbumsRequest(next, req.limit)
			case types.QueryTypeArtists, types.QueryTypeSearchArtists:
				c.addArtistAlbumsRequest(artistAlbumsRequest{artist: artist, offset: next})
			case types.QueryTypeSearchSongs:
				c.addSongsRequest(next, req.limit)
			case types.QueryTypeSongs, types.QueryTypeNone:
			}
		}
	}

	c.albumsDrain()
}

func (c *Crawl) albumsDrain() {
	if c.finished {
		return
	}

	c.flushAlbums()
	c.flushArtistAlbums()

	if c.albumsQ.idle() && c.artistAlbumsQ.idle() && len(c.pendingAlbumSongs) > 0 {
		c.status("Receiving songs for %d album(s)...", len(c.pendingAlbumSongs))
		c.progressMax(len(c.pendingAlbumSongs))
		c.progress(0)
		for _, songsReq := range c.pendingAlbumSongs {
			c.addAlbumSongsRequest(songsReq)
		}
		c.pendingAlbumSongs = make(map[string]albumSongsRequest)
	}

	c.finishCheck()
}

// Album-songs tier.

func (c *Crawl) addAlbumSongsRequest(req albumSongsRequest) {
	c.albumSongsRequested++
	c.albumSongsQ.push(req)
	c.flushAlbumSongs()
}

func (c *Crawl) flushAlbumSongs() {
	c.albumSongsQ.flush(func(req albumSongsRequest) {
		go func() {
			params := url.Values{}
			if req.offset > 0 {
				params.Set("offset", strconv.Itoa(req.offset))
			}

			data, err := c.api.Get(c.ctx, "albums/"+req.album.ID+"/tracks", params)
			c.post(func() { c.albumSongsPageReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) albumSongsPageReceived(req albumSongsRequest, data []byte, err error) {
	c.albumSongsQ.done()
	c.albumSongsReceived++
	if c.finished {
		return
	}

	c.progress(c.albumSongsReceived)
	c.songsReceived(req.artist, req.album, pageRequest{offset: req.offset, limit: 0}, data, err)
}

// Songs tier.

func (c *Crawl) addSongsRequest(offset, limit int) {
	c.songsQ.push(pageRequest{offset: offset, limit: limit})
	c.flushSongs()
}

func (c *Crawl) flushSongs() {
	c.songsQ.flush(func(req pageRequest) {
		go func() {
			data, err := c.fetchTier(req, "track", "me/tracks")
			c.post(func() { c.songsPageReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) songsPageReceived(req pageRequest, data []byte, err error) {
	c.songsQ.done()

	// In fetch-albums mode a song search only discovers albums; the tracks of
	// each album are then fetched in full so results are complete releases.
	if c.opts.Type == types.QueryTypeSearchSongs && c.opts.FetchAlbums {
		c.albumsReceived(types.Artist{}, req, data, err)

		return
	}

	c.songsReceived(types.Artist{}, types.Album{}, req, data, err)
}

func (c *Crawl) songsReceived(artist types.Artist, album types.Album, req pageRequest, data []byte, err error) {
	if c.finished {
		return
	}

	if nil != err {
		c.recordError("%v", err)
		c.songsDrain()

		return
	}

	pg, err := parsePage(data, "tracks")
	if nil != err {
		c.recordError("%v", err)
		c.songsDrain()

		return
	}

	if pg.offset != req.offset {
		c.recordError("offset returned does not match offset requested! %d != %d", pg.offset, req.offset)
		c.songsDrain()

		return
	}

	if len(pg.items) == 0 {
		if req.offset == 0 && artist.ID == "" && album.ID == "" {
			c.noResults = true
		}

		c.songsDrain()

		return
	}

	pageTracks := make([]types.Track, 0, len(pg.items))
	for _, item := range pg.items {
		obj, itemErr := unwrapItem(item)
		if nil != itemErr {
			c.recordError("%v", itemErr)

			continue
		}

		track, parseErr := parseTrack(obj, artist, album, c.opts.CoverSize)
		if nil != parseErr {
			c.recordError("%v", parseErr)

			continue
		}

		pageTracks = append(pageTracks, track)
	}

	normalizeDiscs(pageTracks)
	for _, track := range pageTracks {
		c.tracks[track.ID] = track
		c.logger.Trace().Dict("track", track.ToDict()).Msg("Collected track")
	}

	c.songsFinishCheck(artist, album, req, pg.total, len(pg.items))
}

func (c *Crawl) songsFinishCheck(artist types.Artist, album types.Album, req pageRequest, total, received int) {
	if c.finished {
		return
	}

	if req.limit == 0 || req.limit > received {
		if next := req.offset + received; next > 0 && next < total {
			switch {
			case c.opts.Type == types.QueryTypeSongs:
				c.addSongsRequest(next, req.limit)
			case c.opts.Type == types.QueryTypeSearchSongs && album.ID == "":
				c.addSongsRequest(next, req.limit)
			default:
				c.addAlbumSongsRequest(albumSongsRequest{artist: artist, album: album, offset: next})
			}
		}
	}

	c.songsDrain()
}

func (c *Crawl) songsDrain() {
	if c.finished {
		return
	}

	c.flushSongs()
	c.flushAlbumSongs()

	if c.opts.DownloadCovers && c.opts.Type.IsLibrary() &&
		c.songsQ.idle() && c.albumSongsQ.idle() &&
		c.albumSongsReceived >= c.albumSongsRequested &&
		c.coversRequested == 0 && len(c.coversSent) == 0 {
		c.startCovers()
	}

	c.finishCheck()
}

// finishCheck is the single termination authority: the crawl is done only
// when every queue is drained, no fan-out is still pending, and every
// request that was counted out has been counted back in.
func (c *Crawl) finishCheck() {
	if c.finished {
		return
	}

	if !c.artistsQ.idle() || !c.albumsQ.idle() || !c.songsQ.idle() ||
		!c.artistAlbumsQ.idle() || !c.albumSongsQ.idle() || !c.coversQ.idle() {
		return
	}

	if len(c.pendingArtistAlbums) > 0 || len(c.pendingAlbumSongs) > 0 || len(c.coversSent) > 0 {
		return
	}

	if c.artistAlbumsReceived < c.artistAlbumsRequested ||
		c.albumSongsReceived < c.albumSongsRequested ||
		c.coversReceived < c.coversRequested {
		return
	}

	c.finished = true
}
