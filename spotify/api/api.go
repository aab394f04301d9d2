// Package api implements the low-level transport against the remote catalog
// API: one authenticated call per method, with transport and API-level
// failures normalized into a single Error value. It knows nothing about
// pagination or resource semantics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/velskoi/spotsync/httputil"
)

const DefaultBaseURL = "https://api.spotify.com/v1"

type ErrorKind int

const (
	ErrNetwork ErrorKind = iota + 1
	ErrAPI
	ErrHTTPStatus
	ErrMalformedJSON
	ErrSchema
	ErrAuthRequired
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrAPI:
		return "api"
	case ErrHTTPStatus:
		return "http-status"
	case ErrMalformedJSON:
		return "malformed-json"
	case ErrSchema:
		return "schema"
	case ErrAuthRequired:
		return "auth-required"
	default:
		return "unknown"
	}
}

// Error is the uniform failure value every caller receives. Callers decide
// whether to skip, record, or abort; nothing in this package panics or tears
// down sibling requests.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind when err wraps an *Error, or zero otherwise.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	return 0
}

type Client struct {
	logger           zerolog.Logger
	baseURL          string
	http             *http.Client
	accessToken      func() string
	onSessionInvalid func()
}

// NewClient builds a transport client. accessToken is read before every call;
// onSessionInvalid fires when the server reports an invalidated session so
// the auth layer can deauthenticate.
func NewClient(
	logger zerolog.Logger,
	baseURL string,
	httpClient *http.Client,
	accessToken func() string,
	onSessionInvalid func(),
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second} //nolint:exhaustruct
	}

	return &Client{
		logger:           logger,
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		http:             httpClient,
		accessToken:      accessToken,
		onSessionInvalid: onSessionInvalid,
	}
}

func (c *Client) Get(ctx context.Context, resource string, params url.Values) ([]byte, error) {
	return c.send(ctx, http.MethodGet, resource, params)
}

func (c *Client) Post(ctx context.Context, resource string, params url.Values) ([]byte, error) {
	return c.send(ctx, http.MethodPost, resource, params)
}

func (c *Client) Delete(ctx context.Context, resource string, params url.Values) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, resource, params)
}

func (c *Client) send(ctx context.Context, method, resource string, params url.Values) (b []byte, err error) {
	reqURL := c.baseURL + "/" + strings.TrimPrefix(resource, "/")

	var body *strings.Reader
	switch method {
	case http.MethodPost:
		body = strings.NewReader(params.Encode())
	default:
		body = strings.NewReader("")
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if nil != err {
		return nil, fmt.Errorf("failed to create %s %s request: %v", method, resource, err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	if token := c.accessToken(); token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}

	c.logger.Debug().Str("method", method).Str("url", reqURL).Msg("Sending request")

	resp, err := c.http.Do(req)
	if nil != err {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, newError(ErrNetwork, "%v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close response body: %v", closeErr))
		}
	}()

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, newError(ErrNetwork, "%v", err)
	}

	if resp.StatusCode == http.StatusOK {
		return respBytes, nil
	}

	if envelope, ok := httputil.ParseErrorEnvelope(respBytes); ok {
		if envelope.IsSessionInvalid() {
			if c.onSessionInvalid != nil {
				c.onSessionInvalid()
			}

			return nil, newError(ErrAuthRequired, "%s (%d)", envelope.Message, envelope.Status)
		}

		return nil, newError(ErrAPI, "%s (%d)", envelope.Message, envelope.Status)
	}

	return nil, newError(ErrHTTPStatus, "received HTTP code %d", resp.StatusCode)
}

// ExtractObject validates that data is a non-empty JSON object and returns
// it for loose field probing.
func ExtractObject(data []byte) (gjson.Result, error) {
	if len(data) == 0 {
		return gjson.Result{}, newError(ErrMalformedJSON, "reply from server is missing JSON data")
	}

	if !gjson.ValidBytes(data) {
		return gjson.Result{}, newError(ErrMalformedJSON, "reply from server contains malformed JSON")
	}

	obj := gjson.ParseBytes(data)
	if !obj.IsObject() {
		return gjson.Result{}, newError(ErrMalformedJSON, "JSON document is not an object")
	}

	if len(obj.Map()) == 0 {
		return gjson.Result{}, newError(ErrMalformedJSON, "received empty JSON object")
	}

	return obj, nil
}

// UnwrapKey descends one level into the named envelope the API sometimes
// nests paginated payloads under ("artists", "albums", "tracks"). The object
// is returned unchanged when the key is absent.
func UnwrapKey(obj gjson.Result, key string) gjson.Result {
	if nested := obj.Get(key); nested.IsObject() {
		return nested
	}

	return obj
}

// ExtractItems returns the "items" array of a paginated payload.
func ExtractItems(obj gjson.Result) ([]gjson.Result, error) {
	items := obj.Get("items")
	if !items.Exists() {
		return nil, newError(ErrSchema, "JSON reply is missing items")
	}

	if !items.IsArray() {
		return nil, newError(ErrSchema, "JSON reply items is not an array")
	}

	return items.Array(), nil
}
