package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/velskoi/spotsync/httputil"
)

// silentRefresh runs when the refresh timer fires. It refreshes in the
// background with its own deadline; a terminally failed refresh drops the
// session so the next operation reports login-required.
func (a *Auth) silentRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.RefreshToken(ctx, a.logger); nil != err {
		if errors.Is(err, ErrUnauthorized) {
			a.logger.Warn().Msg("Stored refresh token was rejected, deauthenticating")
			a.Deauthenticate()

			return
		}

		a.logger.Error().Err(err).Msg("Silent token refresh failed")
	}
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Only one refresh may be in flight; transient network failures retry on an
// exponential backoff schedule within ctx.
func (a *Auth) RefreshToken(ctx context.Context, logger zerolog.Logger) error {
	select {
	case a.refreshSem <- struct{}{}:
		defer func() { <-a.refreshSem }()
	default:
		return ErrTokenRefreshInProgress
	}

	existing := a.credentials.Load()
	if existing.RefreshToken == "" {
		return ErrUnauthorized
	}

	params := make(url.Values, 2)
	params.Add("grant_type", "refresh_token")
	params.Add("refresh_token", existing.RefreshToken)

	var reply *tokenReply
	operation := func() error {
		r, err := a.requestToken(ctx, logger, params)
		if nil != err {
			var netErr *netFailure
			if errors.As(err, &netErr) {
				return err
			}

			return backoff.Permanent(err)
		}
		reply = r

		return nil
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4),
		ctx,
	)
	if err := backoff.Retry(operation, schedule); nil != err {
		return fmt.Errorf("refresh token: %w", err)
	}

	refreshToken := reply.RefreshToken
	if refreshToken == "" {
		// Refresh replies may omit the refresh token; keep the stored one.
		refreshToken = existing.RefreshToken
	}

	creds := &Credentials{
		AccessToken:  reply.AccessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    reply.ExpiresIn,
		LoginTime:    time.Now(),
	}
	if err := a.storeCredentials(creds); nil != err {
		logger.Error().Err(err).Msg("Failed to persist refreshed credentials")
		return fmt.Errorf("persist refreshed credentials: %v", err)
	}

	logger.Debug().Int64("expires_in", creds.ExpiresIn).Msg("Access token refreshed")

	return nil
}

type tokenReply struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type netFailure struct {
	err error
}

func (e *netFailure) Error() string {
	return e.err.Error()
}

// requestToken posts to the token endpoint with HTTP Basic client
// credentials and validates the reply. It is shared by the initial code
// exchange and the refresh grant; failures across one attempt are aggregated
// into a single error.
func (a *Auth) requestToken(ctx context.Context, logger zerolog.Logger, params url.Values) (t *tokenReply, err error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.tokenEndpoint(),
		strings.NewReader(params.Encode()),
	)
	if nil != err {
		return nil, fmt.Errorf("create token request: %v", err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")
	req.Header.Add(
		"Authorization",
		"Basic "+base64.StdEncoding.Strict().EncodeToString([]byte(a.clientID+":"+a.clientSecret)),
	)

	client := http.Client{Timeout: 10 * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to issue token request")
		return nil, &netFailure{err: fmt.Errorf("issue token request: %w", err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token response body")
			err = errors.Join(err, fmt.Errorf("close token response body: %v", closeErr))
		}
	}()

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, &netFailure{err: fmt.Errorf("read token response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var respBody struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if jsonErr := json.Unmarshal(respBytes, &respBody); jsonErr == nil && respBody.Error != "" {
			if respBody.Error == "invalid_grant" {
				return nil, ErrUnauthorized
			}

			return nil, fmt.Errorf(
				"authentication failure: %s (%s)",
				respBody.Error,
				respBody.ErrorDescription,
			)
		}

		logger.Error().Int("status_code", resp.StatusCode).Bytes("response_body", respBytes).Msg("Unexpected token response")

		return nil, fmt.Errorf("received HTTP code %d", resp.StatusCode)
	}

	var reply tokenReply
	if err := json.Unmarshal(respBytes, &reply); nil != err {
		return nil, fmt.Errorf("decode token response body: %v", err)
	}

	if reply.AccessToken == "" || reply.ExpiresIn <= 0 {
		return nil, errors.New("token reply is missing access token or expires in")
	}

	return &reply, nil
}

func (a *Auth) tokenEndpoint() string {
	if a.tokenURLOverride != "" {
		return a.tokenURLOverride
	}

	return tokenURL
}
