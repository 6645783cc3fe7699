// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores encrypted API keys, one row per user.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-journal-backend/internal/domain"
)

// UpsertAPIKey stores the encrypted key for userID, replacing any previous one.
func UpsertAPIKey(ctx context.Context, db *gorm.DB, userID, encrypted string) error {
	now := time.Now().UTC()
	rec := &domain.APIKey{
		ID:           uuid.NewString(),
		UserID:       userID,
		KeyEncrypted: encrypted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"key_encrypted", "created_at", "updated_at"}),
		}).
		Create(rec).Error
}

// GetAPIKey returns userID's key record or ErrNotFound.
func GetAPIKey(ctx context.Context, db *gorm.DB, userID string) (*domain.APIKey, error) {
	var rec domain.APIKey
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteAPIKey removes userID's key. Deleting a missing key is not an error.
func DeleteAPIKey(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.APIKey{}).Error
}
