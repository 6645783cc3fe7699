package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-journal-backend/internal/common"
)

// classify maps a provider failure onto the shared taxonomy:
// 401 is an invalid key, 429 is rate limiting, any other HTTP status is a
// provider error and anything without a status is a network error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fromStatus(statusOf(err), err)
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func fromStatus(status int, cause error) error {
	switch {
	case status == http.StatusUnauthorized:
		return common.ErrInvalidKey
	case status == http.StatusTooManyRequests:
		return common.ErrRateLimited
	case status != 0:
		return fmt.Errorf("%w: upstream status %d", common.ErrProvider, status)
	case cause != nil:
		return fmt.Errorf("%w: %v", common.ErrNetwork, cause)
	default:
		return common.ErrNetwork
	}
}
