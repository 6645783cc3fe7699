// Package services – APIKeyService
//
// This file implements APIKeyService, the credential vault's business logic.
// A user's third-party API key is encrypted with the master key before it is
// stored and decrypted only on the way to the provider. The plaintext is
// never logged and never leaves the service except as the return value of
// GetValidatedKey.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/llm"
	"github.com/tbourn/go-journal-backend/internal/repo"
	"github.com/tbourn/go-journal-backend/internal/vault"
)

// apiKeyValidations counts remote key validations by outcome.
var apiKeyValidations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apikey_validations_total",
		Help: "Remote API key validations by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(apiKeyValidations)
}

// KeyStatus describes a stored key without revealing it.
type KeyStatus struct {
	HasKey     bool       `json:"hasKey"`
	KeyPreview string     `json:"keyPreview,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// APIKeyService stores, checks, and releases users' API keys.
type APIKeyService struct {
	DB        *gorm.DB
	Cipher    *vault.Cipher
	Validator llm.KeyValidator
}

func (s *APIKeyService) tracer() trace.Tracer { return otel.Tracer("services/APIKeyService") }

// SaveKey encrypts raw and stores it as userID's only key.
func (s *APIKeyService) SaveKey(ctx context.Context, userID, raw string) error {
	ctx, span := s.tracer().Start(ctx, "SaveKey",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	key := strings.TrimSpace(raw)
	if key == "" || !strings.HasPrefix(key, "sk-") {
		return ErrAPIKeyFormat
	}
	record, err := s.Cipher.Encrypt(key)
	if err != nil {
		return err
	}
	return common.Store(repo.UpsertAPIKey(ctx, s.DB, userID, record))
}

// DeleteKey removes userID's key; removing a missing key succeeds.
func (s *APIKeyService) DeleteKey(ctx context.Context, userID string) error {
	ctx, span := s.tracer().Start(ctx, "DeleteKey",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return common.Store(repo.DeleteAPIKey(ctx, s.DB, userID))
}

// Status reports whether userID has a key. The preview is derived from the
// record's creation time, never from the key itself.
func (s *APIKeyService) Status(ctx context.Context, userID string) (KeyStatus, error) {
	ctx, span := s.tracer().Start(ctx, "Status",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rec, err := repo.GetAPIKey(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return KeyStatus{HasKey: false}, nil
	}
	if err != nil {
		return KeyStatus{}, common.Store(err)
	}
	created := rec.CreatedAt.UTC()
	return KeyStatus{HasKey: true, KeyPreview: keyPreview(created), CreatedAt: &created}, nil
}

func keyPreview(created time.Time) string {
	digits := strconv.FormatInt(created.Unix(), 10)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return "sk-..." + digits
}

// GetValidatedKey loads, decrypts, and remotely validates userID's key and
// returns the plaintext only if every step succeeds.
func (s *APIKeyService) GetValidatedKey(ctx context.Context, userID string) (string, error) {
	key, _, err := s.validated(ctx, userID)
	return key, err
}

// CheckKey runs the same path as GetValidatedKey and reports how many models
// the key can see.
func (s *APIKeyService) CheckKey(ctx context.Context, userID string) (int, error) {
	_, n, err := s.validated(ctx, userID)
	return n, err
}

func (s *APIKeyService) validated(ctx context.Context, userID string) (string, int, error) {
	ctx, span := s.tracer().Start(ctx, "ValidateKey",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rec, err := repo.GetAPIKey(ctx, s.DB, userID)
	if err != nil {
		return "", 0, storeErr(err, ErrAPIKeyNotFound)
	}
	key, err := s.Cipher.Decrypt(rec.KeyEncrypted)
	if err != nil {
		apiKeyValidations.WithLabelValues("undecryptable").Inc()
		return "", 0, err
	}
	if s.Validator == nil {
		return "", 0, fmt.Errorf("%w: no key validator", common.ErrConfiguration)
	}

	n, err := s.Validator.ValidateKey(ctx, key)
	apiKeyValidations.WithLabelValues(validationResult(err)).Inc()
	if err != nil {
		span.SetAttributes(attribute.String("result", validationResult(err)))
		return "", 0, err
	}
	return key, n, nil
}

func validationResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, common.ErrInvalidKey):
		return "invalid"
	case errors.Is(err, common.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, common.ErrNetwork):
		return "network"
	default:
		return "error"
	}
}
