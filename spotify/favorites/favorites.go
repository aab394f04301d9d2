// Package favorites mutates the user's remote favorites collections. It is
// independent of the crawl engine and shares only the transport client.
package favorites

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/velskoi/spotsync/spotify/api"
	"github.com/velskoi/spotsync/spotify/types"
)

// Remove requests are issued per id; keep the fan-out modest.
const maxConcurrentRemoves = 3

// Mutated is called with exactly the subset of input tracks whose ids were
// part of a completed mutation, so persistence layers can react per batch.
type Mutated func(category types.FavoriteCategory, tracks []types.Track)

type Favorites struct {
	logger    zerolog.Logger
	api       *api.Client
	onAdded   Mutated
	onRemoved Mutated
}

func New(logger zerolog.Logger, client *api.Client, onAdded, onRemoved Mutated) *Favorites {
	return &Favorites{
		logger:    logger,
		api:       client,
		onAdded:   onAdded,
		onRemoved: onRemoved,
	}
}

func categoryPath(category types.FavoriteCategory) string {
	switch category {
	case types.FavoriteArtists:
		return "artists"
	case types.FavoriteAlbums:
		return "albums"
	case types.FavoriteSongs:
		return "tracks"
	default:
		return ""
	}
}

func categoryParam(category types.FavoriteCategory) string {
	switch category {
	case types.FavoriteArtists:
		return "artistIds"
	case types.FavoriteAlbums:
		return "albumIds"
	case types.FavoriteSongs:
		return "trackIds"
	default:
		return ""
	}
}

func categoryID(category types.FavoriteCategory, track types.Track) string {
	switch category {
	case types.FavoriteArtists:
		return track.ArtistID
	case types.FavoriteAlbums:
		return track.AlbumID
	case types.FavoriteSongs:
		return track.ID
	default:
		return ""
	}
}

// collect extracts the category's id from each track, dropping records
// without one and deduplicating while preserving first-seen order. The
// returned subset holds one representative track per id.
func collect(category types.FavoriteCategory, tracks []types.Track) ([]string, []types.Track) {
	seen := make(map[string]struct{}, len(tracks))
	ids := make([]string, 0, len(tracks))
	subset := make([]types.Track, 0, len(tracks))
	for _, track := range tracks {
		id := categoryID(category, track)
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
		subset = append(subset, track)
	}

	return ids, subset
}

// Add favorites every track's category id in one batched request.
func (f *Favorites) Add(ctx context.Context, category types.FavoriteCategory, tracks []types.Track) error {
	ids, subset := collect(category, tracks)
	if len(ids) == 0 {
		return nil
	}

	params := url.Values{categoryParam(category): {strings.Join(ids, ",")}}
	if _, err := f.api.Post(ctx, "me/favorites/"+categoryPath(category), params); nil != err {
		return err
	}

	f.logger.Debug().Str("category", category.String()).Int("count", len(ids)).Msg("Added favorites")
	if f.onAdded != nil {
		f.onAdded(category, subset)
	}

	return nil
}

// Remove unfavorites each id with its own request since the API has no batch
// remove. Tracks whose request succeeded are reported even when siblings
// fail; the first failure is returned after all requests settle.
func (f *Favorites) Remove(ctx context.Context, category types.FavoriteCategory, tracks []types.Track) error {
	ids, subset := collect(category, tracks)
	if len(ids) == 0 {
		return nil
	}

	// Siblings are not canceled on first failure so every id gets its chance
	// and the mutated subset stays accurate.
	removed := make([]types.Track, len(ids))
	var wg errgroup.Group
	wg.SetLimit(maxConcurrentRemoves)
	for i, id := range ids {
		wg.Go(func() error {
			if _, err := f.api.Delete(ctx, "me/favorites/"+categoryPath(category)+"/"+id, nil); nil != err {
				return err
			}

			removed[i] = subset[i]

			return nil
		})
	}

	err := wg.Wait()

	mutated := lo.Filter(removed, func(t types.Track, _ int) bool { return t.ID != "" || t.ArtistID != "" || t.AlbumID != "" })
	if len(mutated) > 0 {
		f.logger.Debug().Str("category", category.String()).Int("count", len(mutated)).Msg("Removed favorites")
		if f.onRemoved != nil {
			f.onRemoved(category, mutated)
		}
	}

	return err
}
