// Package services – MessageService
//
// This file implements MessageService, which owns the persisted turn log of a
// journal session. Every turn is stored exactly once: a client-supplied
// message id is kept as ClientID and a repeated save of the same id returns
// the stored row instead of inserting a copy. An Idempotency-Key recorded on
// the first save is honoured the same way.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/repo"
)

// SaveMessageInput is one turn to persist.
type SaveMessageInput struct {
	SessionID      string
	ClientID       string // optional client-side message id
	Role           string
	Content        string
	QuestionIndex  int
	IdempotencyKey string // optional
}

// MessageService coordinates turn persistence and retrieval.
type MessageService struct {
	DB *gorm.DB

	// MaxContentRunes caps stored content; <= 0 disables the check.
	MaxContentRunes int
	// IdempotencyTTL is how long an Idempotency-Key is remembered.
	IdempotencyTTL time.Duration
}

// Save stores a turn in a session owned by userID. The second return value
// reports a replay: the turn had already been saved and the stored row is
// returned unchanged.
func (s *MessageService) Save(ctx context.Context, userID string, in SaveMessageInput) (*domain.Message, bool, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(
			attribute.String("session.id", in.SessionID),
			attribute.String("user.id", userID),
			attribute.String("role", in.Role),
		),
	)
	defer span.End()

	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return nil, false, ErrInvalidRole
	}
	content := normalizeText(in.Content)
	if content == "" {
		return nil, false, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, false, ErrTooLong
	}
	if in.QuestionIndex < 0 {
		return nil, false, common.Validation("questionIndex must be >= 0")
	}

	if _, err := ownedSession(ctx, s.DB, userID, in.SessionID); err != nil {
		return nil, false, err
	}

	if in.IdempotencyKey != "" {
		if prev := s.replayByKey(ctx, userID, in.SessionID, in.IdempotencyKey); prev != nil {
			return prev, true, nil
		}
	}

	m := &domain.Message{
		SessionID:     in.SessionID,
		Role:          role,
		Content:       content,
		QuestionIndex: in.QuestionIndex,
	}
	if cid := strings.TrimSpace(in.ClientID); cid != "" {
		m.ClientID = &cid
	}

	err := repo.CreateMessage(ctx, s.DB, m)
	if errors.Is(err, repo.ErrDuplicate) && m.ClientID != nil {
		prev, gerr := repo.GetMessageByClientID(ctx, s.DB, in.SessionID, *m.ClientID)
		if gerr != nil {
			return nil, false, common.Store(gerr)
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, common.Store(err)
	}

	// Best effort: a lost record only means a retry is deduplicated by ClientID
	// (or not at all).
	if in.IdempotencyKey != "" {
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		_, err := repo.CreateIdempotency(ctx, s.DB, userID, in.SessionID, in.IdempotencyKey, m.ID, 201, ttl)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Warn().Err(err).Str("session_id", in.SessionID).Str("message_id", m.ID).Msg("record idempotency key")
		}
	}
	return m, false, nil
}

func (s *MessageService) replayByKey(ctx context.Context, userID, sessionID, key string) *domain.Message {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, sessionID, key, time.Now().UTC())
	if err != nil {
		return nil
	}
	prev, err := repo.GetMessage(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil
	}
	return prev
}

// List returns every turn of a session owned by userID, oldest first.
func (s *MessageService) List(ctx context.Context, userID, sessionID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := ownedSession(ctx, s.DB, userID, sessionID); err != nil {
		return nil, err
	}
	items, err := repo.ListMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, common.Store(err)
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

// Stats returns the turn count and the newest turn time of a session owned
// by userID, for conditional GETs.
func (s *MessageService) Stats(ctx context.Context, userID, sessionID string) (int64, *time.Time, error) {
	if _, err := ownedSession(ctx, s.DB, userID, sessionID); err != nil {
		return 0, nil, err
	}
	n, ts, err := repo.MessagesStats(ctx, s.DB, sessionID)
	if err != nil {
		return 0, nil, common.Store(err)
	}
	return n, ts, nil
}

// ownedSession loads a session and checks that userID owns it.
func ownedSession(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, common.Validation("sessionId is required")
	}
	sess, err := repo.GetSession(ctx, db, sessionID)
	if err != nil {
		return nil, storeErr(err, ErrSessionNotFound)
	}
	if sess.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return sess, nil
}
