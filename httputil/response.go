package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected empty response body")
		}

		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return respBody, nil
}

// ErrorEnvelope is the structured error body the API nests under an "error"
// key on non-200 responses.
type ErrorEnvelope struct {
	Status  int
	Message string
}

// ParseErrorEnvelope reports whether b contains a well-formed
// {"error": {"status": ..., "message": ...}} document.
func ParseErrorEnvelope(b []byte) (*ErrorEnvelope, bool) {
	if !gjson.ValidBytes(b) {
		return nil, false
	}

	obj := gjson.GetBytes(b, "error")
	if !obj.IsObject() {
		return nil, false
	}

	var (
		status  = obj.Get("status")
		message = obj.Get("message")
	)
	if !status.Exists() || !message.Exists() {
		return nil, false
	}

	return &ErrorEnvelope{
		Status:  int(status.Int()),
		Message: message.Str,
	}, true
}

// IsSessionInvalid reports whether the envelope indicates the user session
// has been invalidated server-side and re-authentication is required.
func (e *ErrorEnvelope) IsSessionInvalid() bool {
	return e.Status == http.StatusUnauthorized
}
