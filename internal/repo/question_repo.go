// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-user
// question catalogs.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-journal-backend/internal/domain"
)

// ListQuestions returns userID's questions ordered by (order, created_at).
// When activeOnly is set inactive questions are skipped.
func ListQuestions(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Question, error) {
	var out []domain.Question
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("sort_order ASC, created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// CountQuestions counts userID's questions.
func CountQuestions(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Question{}).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Count(&total).Error
	return total, err
}

// MaxQuestionOrder returns the highest order value among userID's questions,
// or 0 when the user has none.
func MaxQuestionOrder(ctx context.Context, db *gorm.DB, userID string) (int, error) {
	var row struct {
		Order int `gorm:"column:sort_order"`
	}
	res := db.WithContext(ctx).
		Model(&domain.Question{}).
		Select("sort_order").
		Where("user_id = ?", userID).
		Order("sort_order DESC").
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return 0, res.Error
	}
	return row.Order, nil
}

// CreateQuestion inserts an active question for userID at the given order.
func CreateQuestion(ctx context.Context, db *gorm.DB, userID, text string, order int) (*domain.Question, error) {
	now := time.Now().UTC()
	q := &domain.Question{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Order:     order,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(q).Error; err != nil {
		return nil, err
	}
	return q, nil
}

// InsertQuestionsIgnoreConflicts bulk-inserts questions, silently skipping
// rows whose primary key already exists. It returns the number inserted.
func InsertQuestionsIgnoreConflicts(ctx context.Context, db *gorm.DB, qs []domain.Question) (int64, error) {
	if len(qs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&qs)
	return res.RowsAffected, res.Error
}

// UpdateQuestion applies column updates to a question owned by userID.
// It returns ErrNotFound when no row matches.
func UpdateQuestion(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQuestion removes a question owned by userID. It returns ErrNotFound
// when no row matches.
func DeleteQuestion(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Question{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetQuestion fetches a question owned by userID.
func GetQuestion(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Question, error) {
	var q domain.Question
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}
