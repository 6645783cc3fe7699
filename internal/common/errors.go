// Package common holds the error taxonomy shared by every layer of the
// journal backend.
//
// Categories are plain sentinels. Specific failures wrap exactly one category
// with %w so callers can branch with errors.Is on either the specific error or
// its category. The HTTP layer maps categories to status codes; nothing below
// it knows about HTTP.
package common

import (
	"errors"
	"fmt"
)

// Error categories.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConfiguration   = errors.New("configuration error")
	ErrProvider        = errors.New("provider error")
	ErrStore           = errors.New("store error")
)

// Credential vault failures. Both are configuration problems: retrying with
// the same master key cannot succeed.
var (
	ErrMalformedRecord = fmt.Errorf("%w: malformed credential record", ErrConfiguration)
	ErrDecryption      = fmt.Errorf("%w: credential decryption failed", ErrConfiguration)
)

// AI provider failures.
var (
	ErrInvalidKey  = fmt.Errorf("%w: invalid api key", ErrProvider)
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrProvider)
	ErrNetwork     = fmt.Errorf("%w: network error", ErrProvider)
)

// Validation returns an ErrValidation carrying a human-readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Store wraps a persistence error so it matches ErrStore while keeping the
// underlying cause reachable. A nil err stays nil.
func Store(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}
