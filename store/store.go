// Package store persists normalized track records in a local bbolt database,
// one bucket per collection category. It is the sink a completed crawl's
// result set is written to and the target of favorites-mutation events.
package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/velskoi/spotsync/must"
	"github.com/velskoi/spotsync/spotify/types"
)

var bucketNames = map[types.FavoriteCategory][]byte{
	types.FavoriteArtists: []byte("artists"),
	types.FavoriteAlbums:  []byte("albums"),
	types.FavoriteSongs:   []byte("songs"),
}

type Store struct {
	db *bbolt.DB
}

// recordKey picks the bucket key for a record: the track id when present,
// otherwise the id the category is keyed by. Favorite mutations for artists
// and albums carry only the category id.
func recordKey(category types.FavoriteCategory, track types.Track) []byte {
	if track.ID != "" {
		return []byte(track.ID)
	}

	switch category {
	case types.FavoriteArtists:
		return []byte(track.ArtistID)
	case types.FavoriteAlbums:
		return []byte(track.AlbumID)
	case types.FavoriteSongs:
		return []byte(track.ID)
	default:
		return nil
	}
}

func Open(path string) (*Store, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := createBuckets(db); nil != err {
		return nil, fmt.Errorf("failed to create buckets: %v", err)
	}

	return &Store{db: db}, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists(name); nil != err {
				return fmt.Errorf("failed to create %s bucket: %v", name, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close database: %v", err)
	}

	return nil
}

// ReplaceAll swaps the whole category collection for a completed crawl's
// result set in one transaction.
func (s *Store) ReplaceAll(category types.FavoriteCategory, tracks types.TrackMap) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		name := bucketNames[category]
		if err := tx.DeleteBucket(name); nil != err {
			return fmt.Errorf("failed to delete %s bucket: %v", name, err)
		}

		bucket, err := tx.CreateBucket(name)
		if nil != err {
			return fmt.Errorf("failed to recreate %s bucket: %v", name, err)
		}

		for id, track := range tracks {
			b, err := json.Marshal(track)
			if nil != err {
				return fmt.Errorf("failed to encode track %s: %v", id, err)
			}

			if err := bucket.Put([]byte(id), b); nil != err {
				return fmt.Errorf("failed to store track %s: %v", id, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to replace %s collection: %w", category, err)
	}

	return nil
}

// Put upserts tracks into the category collection (favorites added).
func (s *Store) Put(category types.FavoriteCategory, tracks []types.Track) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNames[category])
		for _, track := range tracks {
			k := recordKey(category, track)
			must.Be(len(k) > 0, "track record key must not be empty")

			b, err := json.Marshal(track)
			if nil != err {
				return fmt.Errorf("failed to encode track %s: %v", k, err)
			}

			if err := bucket.Put(k, b); nil != err {
				return fmt.Errorf("failed to store track %s: %v", k, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to put tracks into %s collection: %w", category, err)
	}

	return nil
}

// Delete removes tracks from the category collection (favorites removed).
func (s *Store) Delete(category types.FavoriteCategory, tracks []types.Track) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNames[category])
		for _, track := range tracks {
			k := recordKey(category, track)
			must.Be(len(k) > 0, "track record key must not be empty")

			if err := bucket.Delete(k); nil != err {
				return fmt.Errorf("failed to delete track %s: %v", k, err)
			}
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to delete tracks from %s collection: %w", category, err)
	}

	return nil
}

// List returns the category collection keyed by track id.
func (s *Store) List(category types.FavoriteCategory) (types.TrackMap, error) {
	tracks := make(types.TrackMap)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNames[category])

		return bucket.ForEach(func(k, v []byte) error {
			var track types.Track
			if err := json.Unmarshal(v, &track); nil != err {
				return fmt.Errorf("failed to decode track %s: %v", k, err)
			}
			tracks[string(k)] = track

			return nil
		})
	})
	if nil != err {
		return nil, fmt.Errorf("failed to list %s collection: %w", category, err)
	}

	return tracks, nil
}
