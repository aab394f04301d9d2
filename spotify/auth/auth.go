// Package auth owns the OAuth authorization-code + refresh-token lifecycle
// that gates every catalog request: the PKCE-style login flow over a local
// loopback listener, token persistence, and the silent refresh timer.
package auth

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/velskoi/spotsync/config"
	"github.com/velskoi/spotsync/spotify/fs"
)

const (
	authorizeURL  = "https://accounts.spotify.com/authorize"
	tokenURL      = "https://accounts.spotify.com/api/token" //nolint:gosec
	redirectHost  = "127.0.0.1"
	redirectPort  = 63111
	portRange     = 10
	oauthScope    = "user-library-read user-library-modify user-follow-read user-follow-modify"
	tokenFileName = "token.json"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTokenRefreshInProgress = errors.New("another auth token refresh is in progress")
	ErrLoginInProgress        = errors.New("another login flow is in progress")
	ErrLoginTimeout           = errors.New("login flow timed out waiting for browser redirect")
)

type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	LoginTime    time.Time
}

func (c *Credentials) ExpiresAt() time.Time {
	return c.LoginTime.Add(time.Duration(c.ExpiresIn) * time.Second)
}

func (c *Credentials) Authenticated() bool {
	return c.AccessToken != "" && time.Now().Before(c.ExpiresAt())
}

type Auth struct {
	logger       zerolog.Logger
	clientID     string
	clientSecret string
	authFile     fs.AuthFile
	loginSem     chan struct{}
	refreshSem   chan struct{}
	credentials  atomic.Pointer[Credentials]

	timerMu      sync.Mutex
	refreshTimer *time.Timer

	// Overridable in tests.
	tokenURLOverride     string
	authorizeURLOverride string
}

// New loads any persisted token and, when a refresh token is present, arms
// the silent refresh timer for the remaining token lifetime.
func New(logger zerolog.Logger, conf config.Spotify) (*Auth, error) {
	content, err := fs.AuthFileFrom(conf.CredsDir, tokenFileName).Read()
	if nil != err && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}

	creds := &Credentials{
		AccessToken:  "",
		RefreshToken: "",
		ExpiresIn:    0,
		LoginTime:    time.Time{},
	}
	if content != nil {
		creds = &Credentials{
			AccessToken:  content.AccessToken,
			RefreshToken: content.RefreshToken,
			ExpiresIn:    content.ExpiresIn,
			LoginTime:    time.Unix(content.LoginTime, 0),
		}
	}

	a := &Auth{
		logger:       logger,
		clientID:     conf.ClientID,
		clientSecret: conf.ClientSecret,
		authFile:     fs.AuthFileFrom(conf.CredsDir, tokenFileName),
		loginSem:     make(chan struct{}, 1),
		refreshSem:   make(chan struct{}, 1),
		credentials:  atomic.Pointer[Credentials]{},
		timerMu:      sync.Mutex{},
		refreshTimer: nil,

		tokenURLOverride:     "",
		authorizeURLOverride: "",
	}
	a.credentials.Store(creds)

	if creds.RefreshToken != "" {
		a.armRefreshTimer(creds.RemainingLifetime())
	}

	return a, nil
}

// RemainingLifetime is how long until the access token expires, clamped to a
// strictly positive interval so reloaded-but-expired tokens refresh at once.
func (c *Credentials) RemainingLifetime() time.Duration {
	remaining := time.Until(c.ExpiresAt())
	if remaining < time.Second {
		remaining = time.Second
	}

	return remaining
}

func (a *Auth) Credentials() *Credentials {
	return a.credentials.Load()
}

func (a *Auth) AccessToken() string {
	return a.credentials.Load().AccessToken
}

func (a *Auth) Authenticated() bool {
	return a.credentials.Load().Authenticated()
}

// Deauthenticate clears all token state in memory and on disk and disarms
// the refresh timer.
func (a *Auth) Deauthenticate() {
	a.credentials.Store(&Credentials{
		AccessToken:  "",
		RefreshToken: "",
		ExpiresIn:    0,
		LoginTime:    time.Time{},
	})

	a.stopRefreshTimer()

	if err := a.authFile.Remove(); nil != err {
		a.logger.Error().Err(err).Msg("Failed to remove token file")
	}
}

// storeCredentials is the single mutation point for token state: it applies
// the new credentials atomically, persists them, and re-arms the refresh
// timer. Failure paths never partially apply a token update.
func (a *Auth) storeCredentials(creds *Credentials) error {
	content := fs.AuthFileContent{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresIn:    creds.ExpiresIn,
		LoginTime:    creds.LoginTime.Unix(),
	}
	if err := a.authFile.Write(content); nil != err {
		return fmt.Errorf("write credentials to file: %v", err)
	}

	a.credentials.Store(creds)

	if creds.ExpiresIn > 0 {
		a.armRefreshTimer(creds.RemainingLifetime())
	}

	return nil
}

func (a *Auth) armRefreshTimer(d time.Duration) {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.refreshTimer != nil {
		a.refreshTimer.Stop()
	}

	a.refreshTimer = time.AfterFunc(d, a.silentRefresh)
}

func (a *Auth) stopRefreshTimer() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.refreshTimer != nil {
		a.refreshTimer.Stop()
		a.refreshTimer = nil
	}
}

// RefreshScheduled reports whether the silent refresh timer is armed.
func (a *Auth) RefreshScheduled() bool {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	return a.refreshTimer != nil
}

// RefreshDue reports whether the access token is close enough to expiry that
// a caller should refresh it before issuing requests.
func (a *Auth) RefreshDue() bool {
	creds := a.credentials.Load()

	return creds.RefreshToken != "" && time.Until(creds.ExpiresAt()) < time.Minute
}
