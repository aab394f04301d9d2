package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velskoi/spotsync/spotify/fs"
)

func TestAuthFileRoundTrip(t *testing.T) {
	t.Parallel()

	file := fs.AuthFileFrom(t.TempDir(), "token.json")

	_, err := file.Read()
	require.ErrorIs(t, err, os.ErrNotExist)

	content := fs.AuthFileContent{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    3600,
		LoginTime:    1700000000,
	}
	require.NoError(t, file.Write(content))

	got, err := file.Read()
	require.NoError(t, err)
	assert.Exactly(t, content, *got)

	require.NoError(t, file.Remove())
	_, err = file.Read()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestAuthFileRemoveMissingIsNotAnError(t *testing.T) {
	t.Parallel()

	file := fs.AuthFileFrom(t.TempDir(), "token.json")
	assert.NoError(t, file.Remove())
}

func TestCoverFileNameIsStable(t *testing.T) {
	t.Parallel()

	dir := fs.CoversDirFrom(t.TempDir())

	a := dir.CoverFile("Artist", "Album", "al1", "jpg")
	b := dir.CoverFile("Artist", "Album", "al1", "jpg")
	assert.Exactly(t, a, b)

	other := dir.CoverFile("Artist", "Album", "al2", "jpg")
	assert.NotEqual(t, a, other)

	assert.True(t, strings.HasSuffix(a.Path(), ".jpg"))
	assert.Exactly(t, string(dir), filepath.Dir(a.Path()))
}

func TestCoverFileWriteAndExists(t *testing.T) {
	t.Parallel()

	dir := fs.CoversDirFrom(t.TempDir())
	file := dir.CoverFile("Artist", "Album", "al1", "png")

	exists, err := file.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, file.Write([]byte("png bytes")))

	exists, err = file.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	b, err := os.ReadFile(file.Path())
	require.NoError(t, err)
	assert.Exactly(t, "png bytes", string(b))
}
