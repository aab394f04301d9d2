package crawl

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/velskoi/spotsync/cache"
	"github.com/velskoi/spotsync/httputil"
	"github.com/velskoi/spotsync/spotify/types"
)

// coverExt maps an accepted cover MIME type to its file extension. Anything
// else is rejected before decode.
func coverExt(mime string) (string, bool) {
	switch mime {
	case "image/jpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	default:
		return "", false
	}
}

// startCovers fans the accumulated track set out into one cover request per
// album. Tracks without a usable cover URL are left untouched.
func (c *Crawl) startCovers() {
	for _, track := range c.tracks {
		c.addCoverRequest(track)
	}

	if c.coversRequested == 0 {
		return
	}

	c.status("Receiving album covers for %d album(s)...", c.coversRequested)
	c.progressMax(c.coversRequested)
	c.progress(0)
	c.flushCovers()
}

func (c *Crawl) addCoverRequest(track types.Track) {
	if !strings.HasPrefix(track.CoverRef, "http") {
		return
	}

	if ids, ok := c.coversSent[track.AlbumID]; ok {
		c.coversSent[track.AlbumID] = append(ids, track.ID)

		return
	}

	c.coversSent[track.AlbumID] = []string{track.ID}
	c.coversRequested++
	c.coversQ.push(coverRequest{albumID: track.AlbumID, url: track.CoverRef})
}

func (c *Crawl) flushCovers() {
	c.coversQ.flush(func(req coverRequest) {
		go func() {
			data, err := c.downloadCover(req.url)
			c.post(func() { c.coverReceived(req, data, err) })
		}()
	})
}

func (c *Crawl) downloadCover(coverURL string) ([]byte, error) {
	if lim := c.opts.CoverRateLimit; lim != nil {
		if err := lim.Wait(c.ctx); nil != err {
			return nil, fmt.Errorf("failed to wait for cover download slot: %w", err)
		}
	}

	fetch := func() (b []byte, err error) {
		req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, coverURL, nil)
		if nil != err {
			return nil, fmt.Errorf("failed to create cover request: %v", err)
		}

		resp, err := c.opts.CoverClient.Do(req)
		if nil != err {
			return nil, fmt.Errorf("failed to download cover %s: %v", coverURL, err)
		}
		defer func() {
			if closeErr := resp.Body.Close(); nil != closeErr {
				err = errors.Join(err, fmt.Errorf("failed to close response body: %v", closeErr))
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("received HTTP code %d for %s", resp.StatusCode, coverURL)
		}

		return httputil.ReadResponseBody(resp)
	}

	if c.opts.CoverCache != nil {
		item, err := c.opts.CoverCache.Fetch(coverURL, cache.DefaultCoverTTL, fetch)
		if nil != err {
			return nil, err
		}

		return item.Value(), nil
	}

	return fetch()
}

// coverReceived validates, decodes, and stores a downloaded cover, then
// rewrites the cover reference of every track belonging to the album.
func (c *Crawl) coverReceived(req coverRequest, data []byte, err error) {
	c.coversQ.done()
	c.coversReceived++
	if c.finished {
		return
	}

	c.progress(c.coversReceived)

	songIDs, ok := c.coversSent[req.albumID]
	if !ok {
		c.coverFinishCheck()

		return
	}
	delete(c.coversSent, req.albumID)

	if nil != err {
		c.recordError("%v", err)
		c.coverFinishCheck()

		return
	}

	detected := mimetype.Detect(data).String()
	ext, ok := coverExt(detected)
	if !ok {
		c.recordError("unsupported cover image format: %s (%s)", detected, req.url)
		c.coverFinishCheck()

		return
	}

	if _, _, decodeErr := image.Decode(bytes.NewReader(data)); nil != decodeErr {
		c.recordError("failed to decode cover image %s: %v", req.url, decodeErr)
		c.coverFinishCheck()

		return
	}

	ref, ok := c.tracks[songIDs[0]]
	if !ok {
		c.coverFinishCheck()

		return
	}

	albumArtist := ref.AlbumArtist
	if albumArtist == "" {
		albumArtist = ref.Artist
	}

	file := c.opts.CoversDir.CoverFile(albumArtist, ref.Album, req.albumID, ext)
	exists, existsErr := file.Exists()
	if nil != existsErr {
		c.recordError("failed to check cover %s: %v", req.url, existsErr)
		c.coverFinishCheck()

		return
	}

	if !exists {
		if writeErr := file.Write(data); nil != writeErr {
			c.recordError("failed to save cover %s: %v", req.url, writeErr)
			c.coverFinishCheck()

			return
		}
	}

	for _, id := range songIDs {
		track, ok := c.tracks[id]
		if !ok {
			continue
		}

		track.CoverRef = file.Path()
		c.tracks[id] = track
	}

	c.coverFinishCheck()
}

func (c *Crawl) coverFinishCheck() {
	c.flushCovers()
	c.finishCheck()
}
