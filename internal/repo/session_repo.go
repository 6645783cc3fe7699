// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for journal
// sessions and their entries.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Ownership checks belong to the service
// layer, which is why GetSession looks a row up by id alone.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/domain"
)

// CreateSession inserts a new session for userID dated now (UTC) with
// Completed = 0 and Starred = false.
func CreateSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Date:      now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by id regardless of owner.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session together with its messages, entries and
// idempotency records. Children are deleted explicitly so the outcome does
// not depend on the driver enforcing foreign keys. Call it inside a
// transaction.
func DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	tx := db.WithContext(ctx)
	if err := tx.Where("session_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
		return err
	}
	if err := tx.Where("session_id = ?", id).Delete(&domain.Entry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("session_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
		return err
	}
	res := tx.Where("id = ?", id).Delete(&domain.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSessionStarred updates the starred flag of a session owned by userID.
// It returns ErrNotFound when no row matches.
func SetSessionStarred(ctx context.Context, db *gorm.DB, id, userID string, starred bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("starred", starred)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionCompleted stores the completion counter of a session.
func UpdateSessionCompleted(ctx context.Context, db *gorm.DB, id string, completed int) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("completed", completed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// sessionScope narrows a query to userID's sessions, optionally starred only.
func sessionScope(db *gorm.DB, userID string, onlyStarred bool) *gorm.DB {
	q := db.Model(&domain.Session{}).Where("user_id = ?", userID)
	if onlyStarred {
		q = q.Where("starred = ?", true)
	}
	return q
}

// CountSessions returns how many sessions userID has.
func CountSessions(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, error) {
	var total int64
	err := sessionScope(db.WithContext(ctx), userID, onlyStarred).Count(&total).Error
	return total, err
}

// ListSessionsPage returns a page of userID's sessions, most recent date first.
func ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool, offset, limit int) ([]domain.Session, error) {
	var out []domain.Session
	err := sessionScope(db.WithContext(ctx), userID, onlyStarred).
		Order("date DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateEntries inserts entries for sessionID, assigning ids and timestamps.
// An empty slice is a no-op.
func CreateEntries(ctx context.Context, db *gorm.DB, sessionID string, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].SessionID = sessionID
		// Preserve submission order even when the clock does not advance.
		entries[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
	}
	return db.WithContext(ctx).Omit("Session").Create(&entries).Error
}

// ListEntriesBySessions returns the entries of every given session, grouped
// by session id and ordered by creation time.
func ListEntriesBySessions(ctx context.Context, db *gorm.DB, sessionIDs []string) (map[string][]domain.Entry, error) {
	out := make(map[string][]domain.Entry, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var rows []domain.Entry
	err := db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		out[e.SessionID] = append(out[e.SessionID], e)
	}
	return out, nil
}
