// Package handlers exposes the journal REST API over Gin.
//
// Handlers are transport-thin: they bind and validate input, read the
// authenticated user set by middleware.Auth, call application services, and
// translate results (or the error taxonomy in internal/common) into HTTP
// responses. Service contracts are declared here so handlers can be tested
// with fakes.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
	"github.com/tbourn/go-journal-backend/internal/llm"
	"github.com/tbourn/go-journal-backend/internal/services"
	"github.com/tbourn/go-journal-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService defines the journal session lifecycle consumed by handlers.
type SessionService interface {
	Create(ctx context.Context, userID string) (*domain.Session, error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, userID, sessionID string) error
	Star(ctx context.Context, userID, sessionID string, starred bool) error
	History(ctx context.Context, userID string, onlyStarred bool, page, pageSize int) ([]domain.Session, int64, error)
	Stats(ctx context.Context, userID string, onlyStarred bool) (int64, *time.Time, error)
	SaveProgress(ctx context.Context, userID, sessionID string, entries []services.EntryInput, completed int) (*domain.Session, error)
}

// MessageService persists and lists the raw chat turns of a session.
type MessageService interface {
	// Save stores one turn. replayed is true when the turn was already stored.
	Save(ctx context.Context, userID string, in services.SaveMessageInput) (m *domain.Message, replayed bool, err error)
	List(ctx context.Context, userID, sessionID string) ([]domain.Message, error)
	Stats(ctx context.Context, userID, sessionID string) (int64, *time.Time, error)
}

// QuestionService manages the per-user question catalog.
type QuestionService interface {
	ListActive(ctx context.Context, userID string) ([]domain.Question, error)
	ListAll(ctx context.Context, userID string) ([]domain.Question, error)
	Add(ctx context.Context, userID, text string) (*domain.Question, error)
	Edit(ctx context.Context, userID, id, text string, order int) (*domain.Question, error)
	SetActive(ctx context.Context, userID, id string, active bool) (*domain.Question, error)
	Delete(ctx context.Context, userID, id string) error
	Reorder(ctx context.Context, userID string, items []services.ReorderItem) error
}

// APIKeyService stores, inspects and validates the user's provider key.
type APIKeyService interface {
	SaveKey(ctx context.Context, userID, raw string) error
	DeleteKey(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (services.KeyStatus, error)
	// CheckKey validates the stored key upstream and returns the model count.
	CheckKey(ctx context.Context, userID string) (int, error)
}

// ChatService streams one AI companion reply.
type ChatService interface {
	Stream(ctx context.Context, userID string, req services.ChatRequest) (<-chan llm.StreamResponse, error)
}

// UploadService stores audio recordings and returns their public URL.
type UploadService interface {
	Upload(ctx context.Context, userID, filename, contentType string, r io.Reader, size int64) (string, error)
}

// The application services satisfy the contracts above.
var (
	_ SessionService  = (*services.SessionService)(nil)
	_ MessageService  = (*services.MessageService)(nil)
	_ QuestionService = (*services.QuestionService)(nil)
	_ APIKeyService   = (*services.APIKeyService)(nil)
	_ ChatService     = (*services.ChatService)(nil)
	_ UploadService   = (*services.UploadService)(nil)
)

//
// Handler wiring
//

// Deps lists the services the handlers depend on. Nil services are allowed
// in tests that do not hit the corresponding routes.
type Deps struct {
	Sessions  SessionService
	Messages  MessageService
	Questions QuestionService
	APIKeys   APIKeyService
	Chat      ChatService
	Uploads   UploadService
}

// Handlers groups the HTTP endpoints of the journal API.
type Handlers struct {
	sessions  SessionService
	messages  MessageService
	questions QuestionService
	apiKeys   APIKeyService
	chat      ChatService
	uploads   UploadService
}

// New constructs Handlers bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		sessions:  d.Sessions,
		messages:  d.Messages,
		questions: d.Questions,
		apiKeys:   d.APIKeys,
		chat:      d.Chat,
		uploads:   d.Uploads,
	}
}

// currentUser returns the user id set by middleware.Auth. When it is missing
// the request is aborted with 401 and ok is false.
func currentUser(c *gin.Context) (uid string, ok bool) {
	uid = middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

//
// Pagination
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params,
// returning (page, pageSize).
func clampPagination(c *gin.Context, defaultPageSize int) (page, pageSize int) {
	const maxPageSize = 100
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	return p.Number, p.Size
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// notModified sets a weak ETag built from parts, count and the newest
// timestamp, and answers 304 when it matches If-None-Match.
func notModified(c *gin.Context, kind string, count int64, newest *time.Time, parts ...any) bool {
	var ts int64
	if newest != nil {
		ts = newest.UnixNano()
	}
	key := kind
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, key, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
