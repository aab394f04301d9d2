package fs

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

type CoversDir string

func CoversDirFrom(dir string) CoversDir {
	return CoversDir(dir)
}

// CoverFile computes the cache file path for an album cover. The name is
// derived from the source/artist/album identity so repeated syncs reuse the
// same file.
func (d CoversDir) CoverFile(albumArtist, album, albumID, ext string) CoverFile {
	h := sha1.Sum([]byte("spotify" + "/" + albumArtist + "/" + album + "/" + albumID)) //nolint:gosec
	name := hex.EncodeToString(h[:]) + "." + ext

	return CoverFile(filepath.Join(string(d), name))
}

type CoverFile string

func (f CoverFile) Path() string {
	return string(f)
}

func (f CoverFile) Exists() (bool, error) {
	if _, err := os.Stat(string(f)); nil != err {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat cover file: %v", err)
	}

	return true, nil
}

func (f CoverFile) Write(b []byte) error {
	if err := os.WriteFile(string(f), b, 0o0644); nil != err {
		return fmt.Errorf("write cover file: %v", err)
	}

	return nil
}
