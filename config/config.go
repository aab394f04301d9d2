package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/velskoi/spotsync/redact"
)

type Config struct {
	Log     Log     `yaml:"log"`
	Spotify Spotify `yaml:"spotify"`
	Store   Store   `yaml:"store"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("spotify", c.Spotify.ToDict()).
		Dict("store", c.Store.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Spotify.setDefaults()
	c.Store.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Spotify.validate(); nil != err {
		return fmt.Errorf("spotify config validation failed: %v", err)
	}

	if err := c.Store.validate(); nil != err {
		return fmt.Errorf("store config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if _, err := zerolog.ParseLevel(c.Level); nil != err {
		return fmt.Errorf("invalid log level %q: %v", c.Level, err)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("invalid log format %q", c.Format)
	}

	return nil
}

type Spotify struct {
	Enabled            bool   `yaml:"enabled"`
	ClientID           string `yaml:"-"`
	ClientSecret       string `yaml:"-"`
	CredsDir           string `yaml:"creds_dir"`
	CoversDir          string `yaml:"covers_dir"`
	ArtistsSearchLimit int    `yaml:"artists_search_limit"`
	AlbumsSearchLimit  int    `yaml:"albums_search_limit"`
	SongsSearchLimit   int    `yaml:"songs_search_limit"`
	SearchDelayMS      int    `yaml:"search_delay_ms"`
	FetchAlbums        bool   `yaml:"fetch_albums"`
	DownloadCovers     bool   `yaml:"download_covers"`
	CoverSize          string `yaml:"cover_size"`
}

func (c Spotify) SearchDelay() time.Duration {
	return time.Duration(c.SearchDelayMS) * time.Millisecond
}

func (c *Spotify) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Bool("enabled", c.Enabled).
		Str("client_id", redact.String(c.ClientID)).
		Str("client_secret", redact.String(c.ClientSecret)).
		Str("creds_dir", c.CredsDir).
		Str("covers_dir", c.CoversDir).
		Int("artists_search_limit", c.ArtistsSearchLimit).
		Int("albums_search_limit", c.AlbumsSearchLimit).
		Int("songs_search_limit", c.SongsSearchLimit).
		Int("search_delay_ms", c.SearchDelayMS).
		Bool("fetch_albums", c.FetchAlbums).
		Bool("download_covers", c.DownloadCovers).
		Str("cover_size", c.CoverSize)
}

func (c *Spotify) setDefaults() {
	if c.CredsDir == "" {
		c.CredsDir = "./creds"
	}

	if c.CoversDir == "" {
		c.CoversDir = "./covers"
	}

	if c.ArtistsSearchLimit == 0 {
		c.ArtistsSearchLimit = 4
	}

	if c.AlbumsSearchLimit == 0 {
		c.AlbumsSearchLimit = 10
	}

	if c.SongsSearchLimit == 0 {
		c.SongsSearchLimit = 10
	}

	if c.SearchDelayMS == 0 {
		c.SearchDelayMS = 1500
	}

	if c.CoverSize == "" {
		c.CoverSize = "640x640"
	}
}

func (c *Spotify) validate() error {
	if c.ClientID == "" {
		return errors.New("make sure the SPOTIFY_CLIENT_ID environment variable is set")
	}

	if c.ClientSecret == "" {
		return errors.New("make sure the SPOTIFY_CLIENT_SECRET environment variable is set")
	}

	if i, err := os.Stat(c.CredsDir); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("creds_dir does not exist")
		}

		return fmt.Errorf("failed to stat creds_dir: %v", err)
	} else if !i.IsDir() {
		return errors.New("creds_dir must be a directory")
	}

	if i, err := os.Stat(c.CoversDir); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("covers_dir does not exist")
		}

		return fmt.Errorf("failed to stat covers_dir: %v", err)
	} else if !i.IsDir() {
		return errors.New("covers_dir must be a directory")
	}

	if c.ArtistsSearchLimit < 1 || c.AlbumsSearchLimit < 1 || c.SongsSearchLimit < 1 {
		return errors.New("search limits must be positive")
	}

	return nil
}

type Store struct {
	Path string `yaml:"path"`
}

func (c *Store) ToDict() *zerolog.Event {
	return zerolog.Dict().Str("path", c.Path)
}

func (c *Store) setDefaults() {
	if c.Path == "" {
		c.Path = "./spotsync.db"
	}
}

func (c *Store) validate() error {
	if c.Path == "" {
		return errors.New("path is required")
	}

	return nil
}

func FromFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q does not exist: %v", path, err)
		}

		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var conf Config
	if err := yaml.Unmarshal(content, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	conf.Spotify.ClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	conf.Spotify.ClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")

	conf.setDefaults()
	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &conf, nil
}
