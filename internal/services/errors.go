// Package services defines the business logic for journal sessions, chat
// turns, question catalogs, API keys, live chat, and uploads.
// This file centralizes service-level error values. Each wraps one category
// from internal/common so handlers can map them to HTTP status codes with
// errors.Is without knowing every specific error.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/repo"
)

// Session errors.
var (
	// ErrSessionNotFound indicates that the session does not exist.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", common.ErrNotFound)

	// ErrSessionForbidden is returned when the session belongs to another user.
	ErrSessionForbidden = fmt.Errorf("%w: session belongs to another user", common.ErrForbidden)

	// ErrCompletedOutOfRange is returned when a progress save reports more
	// answered questions than the active catalog holds.
	ErrCompletedOutOfRange = fmt.Errorf("%w: completed out of range", common.ErrValidation)
)

// Message errors.
var (
	ErrEmptyContent = fmt.Errorf("%w: content is empty", common.ErrValidation)
	ErrInvalidRole  = fmt.Errorf("%w: role must be user or assistant", common.ErrValidation)
	ErrTooLong      = fmt.Errorf("%w: content too long", common.ErrValidation)
)

// Question errors.
var (
	ErrQuestionNotFound = fmt.Errorf("%w: question not found", common.ErrNotFound)
	ErrEmptyQuestion    = fmt.Errorf("%w: question text is empty", common.ErrValidation)
)

// API key errors.
var (
	ErrAPIKeyNotFound = fmt.Errorf("%w: no API key stored", common.ErrNotFound)
	ErrAPIKeyFormat   = fmt.Errorf("%w: API key must start with sk-", common.ErrValidation)
)

// storeErr translates a repository error: a missing row becomes notFound,
// everything else is a store failure.
func storeErr(err, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return notFound
	}
	return common.Store(err)
}
