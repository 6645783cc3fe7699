// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/domain"
)

// SessionsStats returns aggregate metadata for a user's sessions: the total
// number of rows and the greatest UpdatedAt among them. When the user has no
// sessions the count is 0 and maxUpdatedAt is nil.
func SessionsStats(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (count int64, maxUpdatedAt *time.Time, err error) {
	q := sessionScope(db.WithContext(ctx), userID, onlyStarred)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = sessionScope(db.WithContext(ctx), userID, onlyStarred).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a session and the
// CreatedAt of the newest one. Messages are append-only, so that pair changes
// whenever the list does.
func MessagesStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Message{}).Where("session_id = ?", sessionID).
		Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
