package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tbourn/go-journal-backend/internal/common"
)

// ErrIncompleteStream reports a chat stream that ended without its sentinel.
var ErrIncompleteStream = fmt.Errorf("%w: chat stream ended early", common.ErrNetwork)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status    int
	RequestID string
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the envelope onto the shared error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_api_key":
		return common.ErrInvalidKey
	case "configuration_error":
		return common.ErrConfiguration
	case "provider_error":
		return common.ErrProvider
	case "store_error":
		return common.ErrStore
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return common.ErrUnauthenticated
	case e.Status == http.StatusForbidden:
		return common.ErrForbidden
	case e.Status == http.StatusNotFound:
		return common.ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return common.ErrRateLimited
	case e.Status >= 400 && e.Status < 500:
		return common.ErrValidation
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(headerRequestID)}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil && (env.Code != "" || env.Message != "") {
		e.Code, e.Message = env.Code, env.Message
		if env.RequestID != "" {
			e.RequestID = env.RequestID
		}
		return e
	}
	e.Message = http.StatusText(resp.StatusCode)
	return e
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
