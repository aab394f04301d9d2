package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velskoi/spotsync/cache"
)

func TestCoversFetchCallsLoaderOnce(t *testing.T) {
	t.Parallel()

	c := cache.New()

	calls := 0
	load := func() ([]byte, error) {
		calls++

		return []byte("jpeg-bytes"), nil
	}

	item, err := c.Covers.Fetch("https://img.example/cover.jpg", time.Minute, load)
	require.NoError(t, err)
	assert.Exactly(t, []byte("jpeg-bytes"), item.Value())

	item, err = c.Covers.Fetch("https://img.example/cover.jpg", time.Minute, load)
	require.NoError(t, err)
	assert.Exactly(t, []byte("jpeg-bytes"), item.Value())
	assert.Exactly(t, 1, calls)
}

func TestCoversFetchPropagatesLoaderError(t *testing.T) {
	t.Parallel()

	c := cache.New()

	bang := errors.New("remote unavailable")
	_, err := c.Covers.Fetch("https://img.example/missing.jpg", time.Minute, func() ([]byte, error) {
		return nil, bang
	})
	require.ErrorIs(t, err, bang)
}
