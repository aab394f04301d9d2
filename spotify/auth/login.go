package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/velskoi/spotsync/result"
)

const (
	codeVerifierLength = 44
	loginWaitTimeout   = 5 * time.Minute
)

type LoginLink struct {
	URL string
}

// InitiateLoginFlow binds the loopback redirect listener, builds the
// authorize URL bound to a fresh PKCE-style challenge, and returns the URL
// for the user's browser together with a channel that delivers the final
// credentials (or the aggregated login failure). A second call while a
// listener is already open returns ErrLoginInProgress.
func (a *Auth) InitiateLoginFlow(ctx context.Context) (*LoginLink, <-chan result.Of[Credentials], error) {
	select {
	case a.loginSem <- struct{}{}:
	default:
		return nil, nil, ErrLoginInProgress
	}

	link, wait, err := a.initiateLoginFlow(ctx)
	if nil != err {
		<-a.loginSem
		return nil, nil, fmt.Errorf("failed to initiate login flow: %w", err)
	}

	return link, wait, nil
}

func (a *Auth) initiateLoginFlow(ctx context.Context) (*LoginLink, <-chan result.Of[Credentials], error) {
	listener, port, err := listenLoopback()
	if nil != err {
		return nil, nil, err
	}

	verifier, err := randomVerifier(codeVerifierLength)
	if nil != err {
		if closeErr := listener.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("close redirect listener: %v", closeErr))
		}

		return nil, nil, err
	}
	challenge := deriveChallenge(verifier)

	redirectURL := fmt.Sprintf("http://%s:%d/", redirectHost, port)

	params := make(url.Values, 5)
	params.Add("client_id", a.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", redirectURL)
	params.Add("state", challenge)
	params.Add("scope", oauthScope)

	authorizeEndpoint := authorizeURL
	if a.authorizeURLOverride != "" {
		authorizeEndpoint = a.authorizeURLOverride
	}

	var (
		redirects = make(chan url.Values, 1)
		done      = make(chan result.Of[Credentials], 1)
	)

	server := &http.Server{ //nolint:exhaustruct
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case redirects <- r.URL.Query():
			default:
				// A redirect has already been consumed for this flow.
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>Login received. You can close this tab.</body></html>"))
		}),
	}

	go func() {
		if serveErr := server.Serve(listener); nil != serveErr && !errors.Is(serveErr, http.ErrServerClosed) {
			a.logger.Error().Err(serveErr).Msg("Redirect listener stopped unexpectedly")
		}
	}()

	go func() {
		defer close(done)
		defer func() { <-a.loginSem }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if shutdownErr := server.Shutdown(shutdownCtx); nil != shutdownErr {
				a.logger.Error().Err(shutdownErr).Msg("Failed to shut down redirect listener")
			}
		}()

		waitCtx, cancel := context.WithTimeout(ctx, loginWaitTimeout)
		defer cancel()

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				done <- result.Err[Credentials](ErrLoginTimeout)

				return
			}
			done <- result.Err[Credentials](waitCtx.Err())

			return
		case query := <-redirects:
			creds, err := a.completeLogin(waitCtx, query, challenge, redirectURL)
			if nil != err {
				done <- result.Err[Credentials](err)

				return
			}
			done <- result.Ok(creds)

			return
		}
	}()

	link := &LoginLink{URL: authorizeEndpoint + "?" + params.Encode()}

	return link, done, nil
}

// completeLogin validates the redirect query and performs the
// authorization-code exchange. All failures across the attempt surface as
// one aggregated error; a token update is never partially applied.
func (a *Auth) completeLogin(ctx context.Context, query url.Values, challenge, redirectURL string) (*Credentials, error) {
	var loginErrors []string

	if errParam := query.Get("error"); errParam != "" {
		loginErrors = append(loginErrors, "authorization was denied: "+errParam)

		return nil, errors.New(strings.Join(loginErrors, "; "))
	}

	var (
		code  = query.Get("code")
		state = query.Get("state")
	)
	if code == "" || state == "" {
		loginErrors = append(loginErrors, "redirect missing code or state")

		return nil, errors.New(strings.Join(loginErrors, "; "))
	}

	if state != challenge {
		loginErrors = append(loginErrors, "redirect state does not match challenge")

		return nil, errors.New(strings.Join(loginErrors, "; "))
	}

	params := make(url.Values, 3)
	params.Add("grant_type", "authorization_code")
	params.Add("code", code)
	params.Add("redirect_uri", redirectURL)

	reply, err := a.requestToken(ctx, a.logger, params)
	if nil != err {
		loginErrors = append(loginErrors, err.Error())

		return nil, errors.New(strings.Join(loginErrors, "; "))
	}

	creds := &Credentials{
		AccessToken:  reply.AccessToken,
		RefreshToken: reply.RefreshToken,
		ExpiresIn:    reply.ExpiresIn,
		LoginTime:    time.Now(),
	}
	if err := a.storeCredentials(creds); nil != err {
		return nil, fmt.Errorf("persist credentials: %v", err)
	}

	a.logger.Debug().Int64("expires_in", creds.ExpiresIn).Msg("Authentication was successful")

	return creds, nil
}

// listenLoopback binds the redirect listener on the default port, walking a
// small range when the port is occupied.
func listenLoopback() (net.Listener, int, error) {
	var lastErr error
	for port := redirectPort; port <= redirectPort+portRange; port++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(redirectHost, strconv.Itoa(port)))
		if nil != err {
			lastErr = err
			continue
		}

		return listener, port, nil
	}

	return nil, 0, fmt.Errorf("failed to bind redirect listener on ports %d-%d: %v", redirectPort, redirectPort+portRange, lastErr)
}

const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomVerifier(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); nil != err {
		return "", fmt.Errorf("failed to generate random verifier: %v", err)
	}

	for i := range b {
		b[i] = verifierAlphabet[int(b[i])%len(verifierAlphabet)]
	}

	return string(b), nil
}

// deriveChallenge hashes the verifier and encodes it URL-safe without
// padding, binding the authorization redirect to this flow.
func deriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}
