// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the mapping from the
// application error taxonomy (internal/common) to HTTP status and code. Codes
// give clients a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror HTTP status semantics; domain codes (invalid_api_key,
//     provider_error, configuration_error) cover failures status alone cannot
//     convey.
//   - All error responses carry both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "session not found"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidAPIKey    = "invalid_api_key"
	ErrCodeProvider         = "provider_error"
	ErrCodeConfiguration    = "configuration_error"
	ErrCodeStore            = "store_error"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// statusClientClosed is logged for requests whose client went away.
const statusClientClosed = 499

// failErr maps an application error to the standard error envelope.
//
// Mapping:
//
//	ErrInvalidKey      400 invalid_api_key
//	ErrRateLimited     429 too_many_requests
//	ErrValidation      400 bad_request
//	ErrUnauthenticated 401 unauthorized
//	ErrForbidden       403 forbidden
//	ErrNotFound        404 not_found
//	ErrConfiguration   500 configuration_error
//	ErrProvider        500 provider_error
//	ErrStore           500 store_error
//	anything else      500 internal_error
//
// Provider specifics are checked before the generic categories because they
// wrap ErrProvider. Messages of 5xx store and internal errors are replaced with
// a generic text; the cause is logged.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidKey):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAPIKey, "invalid API key")
	case errors.Is(err, common.ErrRateLimited):
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "provider rate limit exceeded")
	case errors.Is(err, common.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, common.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, common.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, common.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, common.ErrConfiguration):
		fail(c, http.StatusInternalServerError, ErrCodeConfiguration, err.Error())
	case errors.Is(err, common.ErrProvider):
		fail(c, http.StatusInternalServerError, ErrCodeProvider, err.Error())
	case errors.Is(err, context.Canceled):
		middleware.LoggerFrom(c).Debug().Err(err).Msg("client went away")
		c.AbortWithStatus(statusClientClosed)
	case errors.Is(err, common.ErrStore):
		middleware.LoggerFrom(c).Error().Err(err).Msg("store failure")
		fail(c, http.StatusInternalServerError, ErrCodeStore, "storage failure")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unexpected error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
