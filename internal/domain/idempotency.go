package domain

import "time"

// Idempotency records the outcome of a previously processed request keyed by
// (user_id, session_id, key). A retried POST carrying the same
// Idempotency-Key is answered from this record without re-running side
// effects.
type Idempotency struct {
	ID         string    `gorm:"type:varchar(36);not null;primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_session_key,priority:1"`
	SessionID  string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_user_session_key,priority:2"`
	Key        string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_user_session_key,priority:3"`
	ResourceID string    `gorm:"type:varchar(36);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
