// Package services – ChatService
//
// This file implements ChatService, the server half of a journal
// conversation. It resolves the question the conversation is on, picks the
// provider configured at startup (with the user's vaulted key when the
// provider needs one), builds the companion system prompt, and hands back
// the provider's token stream. Turns are not persisted here; the client
// saves them through MessageService once a reply is complete.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/llm"
)

// ProviderFactory yields the startup-selected provider. llm.Factory implements it.
type ProviderFactory interface {
	UsesAPIKey() bool
	Provider(userKey string) (llm.Provider, error)
}

// KeySource releases a user's validated API key. APIKeyService implements it.
type KeySource interface {
	GetValidatedKey(ctx context.Context, userID string) (string, error)
}

// ChatRequest is one chat turn request.
type ChatRequest struct {
	Turns         []llm.Turn
	SessionID     string // optional; ownership is checked when set
	QuestionIndex int
}

// ChatService streams assistant replies.
type ChatService struct {
	DB        *gorm.DB
	Catalog   ActiveCatalog
	Keys      KeySource
	Providers ProviderFactory
}

// Stream validates req and starts a streamed reply. Errors returned here
// happen before any token is produced; later failures arrive on the channel.
func (s *ChatService) Stream(ctx context.Context, userID string, req ChatRequest) (<-chan llm.StreamResponse, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Stream",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", req.SessionID),
			attribute.Int("question.index", req.QuestionIndex),
		),
	)
	defer span.End()

	turns := make([]llm.Turn, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		if role != domain.RoleUser && role != domain.RoleAssistant {
			continue
		}
		content := normalizeText(t.Content)
		if content == "" {
			continue
		}
		turns = append(turns, llm.Turn{Role: role, Content: content})
	}
	if len(turns) == 0 {
		return nil, common.Validation("at least one message is required")
	}

	if req.SessionID != "" {
		if _, err := ownedSession(ctx, s.DB, userID, req.SessionID); err != nil {
			return nil, err
		}
	}

	catalog, err := s.Catalog.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.QuestionIndex < 0 || req.QuestionIndex >= len(catalog) {
		return nil, common.Validation("currentQuestionIndex %d outside catalog of %d", req.QuestionIndex, len(catalog))
	}
	question := catalog[req.QuestionIndex].Text

	provider, err := s.provider(ctx, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider", provider.Name()))

	return provider.StreamChat(ctx, SystemPrompt(question), turns)
}

// provider resolves the provider for userID. Key-based providers prefer the
// user's own key and fall back to the shared one when the user has none.
func (s *ChatService) provider(ctx context.Context, userID string) (llm.Provider, error) {
	if s.Providers == nil {
		return nil, fmt.Errorf("%w: no model provider configured", common.ErrConfiguration)
	}
	var userKey string
	if s.Providers.UsesAPIKey() && s.Keys != nil {
		key, err := s.Keys.GetValidatedKey(ctx, userID)
		switch {
		case err == nil:
			userKey = key
		case errors.Is(err, ErrAPIKeyNotFound):
		default:
			return nil, err
		}
	}
	return s.Providers.Provider(userKey)
}

// SystemPrompt builds the companion instructions for the current question.
func SystemPrompt(question string) string {
	var b strings.Builder
	b.WriteString(`You are "Collector", an empathetic journaling companion helping the user reflect on their day through a structured conversation.`)
	b.WriteString("\n\nCurrent question focus: ")
	b.WriteString(question)
	b.WriteString("\n\nGuidelines:\n")
	b.WriteString("- Be warm, empathetic, and encouraging\n")
	b.WriteString("- Ask follow-up questions that help them reflect more deeply\n")
	b.WriteString("- Keep responses concise (2-3 sentences)\n")
	b.WriteString(`- When they have shared enough, acknowledge it and transition naturally, for example "Thank you for sharing. Let's move on to the next question."` + "\n")
	b.WriteString("- Don't be overly formal or clinical\n")
	b.WriteString("- Show genuine interest in their wellbeing")
	return b.String()
}
