// Package services – SessionService
//
// This file implements SessionService, which owns the lifecycle of journal
// sessions: creation, ownership checks, starring, history with entries, the
// progress save at the end of a conversation, and deletion. Lifecycle events
// are published best effort after the database work has committed.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/events"
	"github.com/tbourn/go-journal-backend/internal/utils"
)

// SessionRepo defines the repository contract required by SessionService.
type SessionRepo interface {
	// CreateSession inserts a new session for userID.
	CreateSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error)

	// GetSession fetches a session by id regardless of owner.
	GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error)

	// DeleteSession removes a session and its children. Called inside a transaction.
	DeleteSession(ctx context.Context, db *gorm.DB, id string) error

	// SetSessionStarred updates the flag on a session owned by userID.
	SetSessionStarred(ctx context.Context, db *gorm.DB, id, userID string, starred bool) error

	// UpdateSessionCompleted stores the completion counter.
	UpdateSessionCompleted(ctx context.Context, db *gorm.DB, id string, completed int) error

	// CountSessions returns the total number of sessions for pagination.
	CountSessions(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, error)

	// ListSessionsPage returns a page of sessions, most recent first.
	ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool, offset, limit int) ([]domain.Session, error)

	// CreateEntries appends structured answers to a session.
	CreateEntries(ctx context.Context, db *gorm.DB, sessionID string, entries []domain.Entry) error

	// ListEntriesBySessions loads entries for many sessions in one query.
	ListEntriesBySessions(ctx context.Context, db *gorm.DB, sessionIDs []string) (map[string][]domain.Entry, error)

	// SessionsStats returns the row count and newest UpdatedAt, for ETags.
	SessionsStats(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, *time.Time, error)
}

// ActiveCatalog lists the active questions of a user, seeding defaults when
// the user has none. QuestionService implements it.
type ActiveCatalog interface {
	ListActive(ctx context.Context, userID string) ([]domain.Question, error)
}

// EntryInput is one structured answer submitted with a progress save.
type EntryInput struct {
	QuestionKey string
	Question    string
	Answer      string
	AudioURL    *string
}

// SessionService provides session-level operations and enforces ownership.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the session repository used by this service.
	Repo SessionRepo
	// Catalog bounds the completion counter on progress saves.
	Catalog ActiveCatalog
	// Events receives lifecycle events; nil disables publishing.
	Events events.Publisher
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *gorm.DB, r SessionRepo, catalog ActiveCatalog, pub events.Publisher) *SessionService {
	return &SessionService{DB: db, Repo: r, Catalog: catalog, Events: pub}
}

// Create starts a new session for userID with nothing answered yet.
func (s *SessionService) Create(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	sess, err := s.Repo.CreateSession(ctx, s.DB, userID)
	if err != nil {
		return nil, common.Store(err)
	}
	return sess, nil
}

// Get returns a session owned by userID.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	return s.owned(ctx, s.DB, userID, sessionID)
}

// owned loads a session and checks that userID owns it.
func (s *SessionService) owned(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Session, error) {
	sess, err := s.Repo.GetSession(ctx, db, sessionID)
	if err != nil {
		return nil, storeErr(err, ErrSessionNotFound)
	}
	if sess.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return sess, nil
}

// Delete removes a session with its messages and entries in one transaction.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.owned(ctx, tx, userID, sessionID); err != nil {
			return err
		}
		return storeErr(s.Repo.DeleteSession(ctx, tx, sessionID), ErrSessionNotFound)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{Type: events.SessionDeleted, UserID: userID, SessionID: sessionID})
	return nil
}

// Star sets or clears the starred flag of a session owned by userID.
func (s *SessionService) Star(ctx context.Context, userID, sessionID string, starred bool) error {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Star",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Bool("starred", starred),
		))
	defer span.End()

	return storeErr(s.Repo.SetSessionStarred(ctx, s.DB, sessionID, userID, starred), ErrSessionNotFound)
}

// History returns a page of userID's sessions, most recent first, each with
// its entries. Entries for the whole page are loaded in one query.
func (s *SessionService) History(ctx context.Context, userID string, onlyStarred bool, page, pageSize int) ([]domain.Session, int64, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Bool("only_starred", onlyStarred),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		))
	defer span.End()

	pg := utils.Page{Number: page, Size: pageSize}
	if pg.Number < 1 {
		pg.Number = 1
	}
	if pg.Size <= 0 {
		pg.Size = 50
	}

	total, err := s.Repo.CountSessions(ctx, s.DB, userID, onlyStarred)
	if err != nil {
		return nil, 0, common.Store(err)
	}
	if total == 0 {
		return []domain.Session{}, 0, nil
	}

	items, err := s.Repo.ListSessionsPage(ctx, s.DB, userID, onlyStarred, pg.Offset(), pg.Size)
	if err != nil {
		return nil, 0, common.Store(err)
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	entries, err := s.Repo.ListEntriesBySessions(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, common.Store(err)
	}
	for i := range items {
		items[i].Entries = entries[items[i].ID]
		if items[i].Entries == nil {
			items[i].Entries = []domain.Entry{}
		}
	}
	return items, total, nil
}

// Stats returns the session count and newest update time of userID's history,
// for conditional GETs.
func (s *SessionService) Stats(ctx context.Context, userID string, onlyStarred bool) (int64, *time.Time, error) {
	n, ts, err := s.Repo.SessionsStats(ctx, s.DB, userID, onlyStarred)
	if err != nil {
		return 0, nil, common.Store(err)
	}
	return n, ts, nil
}

// SaveProgress stores the completion counter and appends entries. The counter
// must lie within the user's active catalog. When it reaches the catalog
// length a completion event is published.
func (s *SessionService) SaveProgress(ctx context.Context, userID, sessionID string, entries []EntryInput, completed int) (*domain.Session, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "SaveProgress",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("completed", completed),
			attribute.Int("entries", len(entries)),
		))
	defer span.End()

	if completed < 0 {
		return nil, ErrCompletedOutOfRange
	}
	rows := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		key := normalizeText(e.QuestionKey)
		question := normalizeText(e.Question)
		if key == "" || question == "" {
			return nil, common.Validation("entry needs questionKey and question")
		}
		rows = append(rows, domain.Entry{
			QuestionKey: key,
			Question:    question,
			Answer:      normalizeText(e.Answer),
			AudioURL:    e.AudioURL,
		})
	}

	// Ownership first: listing the catalog may seed the caller's defaults.
	if _, err := s.owned(ctx, s.DB, userID, sessionID); err != nil {
		return nil, err
	}

	catalogLen := -1
	if s.Catalog != nil {
		qs, err := s.Catalog.ListActive(ctx, userID)
		if err != nil {
			return nil, err
		}
		catalogLen = len(qs)
		if completed > catalogLen {
			return nil, ErrCompletedOutOfRange
		}
	}

	var out *domain.Session
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := s.owned(ctx, tx, userID, sessionID)
		if err != nil {
			return err
		}
		if err := s.Repo.UpdateSessionCompleted(ctx, tx, sessionID, completed); err != nil {
			return storeErr(err, ErrSessionNotFound)
		}
		if err := s.Repo.CreateEntries(ctx, tx, sessionID, rows); err != nil {
			return common.Store(err)
		}
		sess.Completed = completed
		sess.UpdatedAt = time.Now().UTC()
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed == catalogLen {
		s.publish(ctx, events.Event{
			Type: events.SessionCompleted, UserID: userID, SessionID: sessionID, Completed: completed,
		})
	}
	return out, nil
}

// publish sends e best effort; failures are logged, never returned.
func (s *SessionService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(ctx).Warn().Err(err).Str("event", e.Type).Str("session_id", e.SessionID).Msg("publish session event")
	}
}
