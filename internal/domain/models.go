// Package domain defines the persistence models for journal sessions,
// entries, chat turns, per-user question catalogs, and encrypted API keys.
// These types are mapped with GORM and form the core data layer of the
// journal backend.
package domain

import "time"

// Message roles. The turn log only ever holds these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one day's journal conversation for a user.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner; indexed for history queries.
//   - Date: the calendar moment the session was started.
//   - Completed: number of catalog questions answered (0..len(active catalog)).
//   - Starred: user bookmark used by the history filter.
//   - Entries: filled by history queries only, never persisted through this field.
//
// Sessions are deleted physically so that entries and messages cascade.
type Session struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"userId"    gorm:"type:varchar(64);not null;index:idx_user_sessions,priority:1"`
	Date      time.Time `json:"date"      gorm:"not null;index:idx_user_sessions,priority:2"`
	Completed int       `json:"completed" gorm:"not null;default:0;check:completed >= 0"`
	Starred   bool      `json:"starred"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Entries []Entry `json:"entries,omitempty" gorm:"-"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "journal_sessions" }

// Entry is a structured answer to one catalog question within a session.
// (SessionID, QuestionKey) is deliberately not unique: repeated saves append.
type Entry struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	SessionID   string    `json:"sessionId"   gorm:"type:char(36);not null;index:idx_session_entries,priority:1"`
	QuestionKey string    `json:"questionKey" gorm:"type:varchar(64);not null"`
	Question    string    `json:"question"    gorm:"type:text;not null"`
	Answer      string    `json:"answer"      gorm:"type:text;not null"`
	AudioURL    *string   `json:"audioUrl,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"index:idx_session_entries,priority:2"`

	// Session is the parent; entries are cascade-deleted with it.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Entry.
func (Entry) TableName() string { return "journal_entries" }

// Message is a single chat turn within a session.
//
// Fields:
//   - ID: server-assigned UUID primary key.
//   - ClientID: the id the client gave the turn, if any. Unique per session so
//     a retried save is recognised and not stored twice.
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - QuestionIndex: catalog index the conversation was on when the turn was made.
type Message struct {
	ID            string    `json:"id"            gorm:"type:char(36);primaryKey"`
	SessionID     string    `json:"sessionId"     gorm:"type:char(36);not null;index:idx_session_msgs,priority:1;uniqueIndex:ux_session_client_msg,priority:1"`
	ClientID      *string   `json:"clientId,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_session_client_msg,priority:2"`
	Role          string    `json:"role"          gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content       string    `json:"content"       gorm:"type:text;not null"`
	QuestionIndex int       `json:"questionIndex" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"createdAt"     gorm:"index:idx_session_msgs,priority:2"`

	// Session is the parent; messages are cascade-deleted with it.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Question is one prompt in a user's catalog. Order is 1-based; ties are
// broken by CreatedAt when listing.
type Question struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"userId"    gorm:"type:varchar(64);not null;index:idx_user_questions,priority:1"`
	Text      string    `json:"question"  gorm:"column:question;type:text;not null"`
	Order     int       `json:"order"     gorm:"column:sort_order;not null;index:idx_user_questions,priority:2"`
	IsActive  bool      `json:"isActive"  gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the database table name for Question.
func (Question) TableName() string { return "user_questions" }

// APIKey is the encrypted third-party API key of a user. At most one row per
// user; KeyEncrypted has the form hex(iv) ":" hex(ciphertext).
type APIKey struct {
	ID           string    `json:"-" gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	KeyEncrypted string    `json:"-" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }
