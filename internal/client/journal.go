package client

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/tbourn/go-journal-backend/internal/domain"
)

// Message is one turn to store.
type Message struct {
	ID      string `json:"id,omitempty"` // client id; makes retries safe
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entry is a finalized answer saved with progress.
type Entry struct {
	QuestionKey string  `json:"questionKey"`
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	AudioURL    *string `json:"audioUrl,omitempty"`
}

// HistoryQuery selects a page of past sessions. Zero values use the server
// defaults.
type HistoryQuery struct {
	OnlyStarred bool
	Page        int
	PageSize    int
}

// Pagination mirrors the server's paging metadata.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// HistoryPage is one page of sessions with their entries.
type HistoryPage struct {
	Sessions   []domain.Session `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// ReorderItem assigns a new order to one question.
type ReorderItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type sessionEnvelope struct {
	Session *domain.Session `json:"session"`
}

type questionEnvelope struct {
	Question *domain.Question `json:"question"`
}

type questionsEnvelope struct {
	Questions []domain.Question `json:"questions"`
}

// idemKeyPattern is what the server accepts in Idempotency-Key.
var idemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]{1,190}$`)

//
// Sessions
//

// CreateSession starts a new session.
func (c *Client) CreateSession(ctx context.Context) (*domain.Session, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/journal/session", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// GetSession fetches one of the caller's sessions.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/journal/session/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// DeleteSession removes a session with its entries and messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/journal/session/"+url.PathEscape(id), nil, nil)
}

// StarSession sets the starred flag.
func (c *Client) StarSession(ctx context.Context, id string, starred bool) error {
	body := struct {
		SessionID string `json:"sessionId"`
		Starred   bool   `json:"starred"`
	}{id, starred}
	return c.do(ctx, http.MethodPatch, "/journal/star", body, nil)
}

// History lists past sessions, newest first.
func (c *Client) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	v := url.Values{}
	if q.OnlyStarred {
		v.Set("onlyStarred", "true")
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	path := "/journal/history"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveProgress stores the completion counter and appends entries.
func (c *Client) SaveProgress(ctx context.Context, sessionID string, completed int, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	body := struct {
		SessionID string  `json:"sessionId"`
		Entries   []Entry `json:"entries"`
		Completed int     `json:"completed"`
	}{sessionID, entries, completed}
	return c.do(ctx, http.MethodPost, "/journal/save", body, nil)
}

//
// Messages
//

// SaveMessage stores one turn. When m.ID is a valid key it is also sent as
// the Idempotency-Key so a retried save is answered from the first one.
func (c *Client) SaveMessage(ctx context.Context, sessionID string, m Message, questionIndex int) error {
	body := struct {
		SessionID            string  `json:"sessionId"`
		Message              Message `json:"message"`
		CurrentQuestionIndex int     `json:"currentQuestionIndex"`
	}{sessionID, m, questionIndex}

	var hdr []string
	if key := "msg:" + m.ID; m.ID != "" && idemKeyPattern.MatchString(key) {
		hdr = []string{headerIdempotencyKey, key}
	}
	return c.do(ctx, http.MethodPost, "/journal/message", body, nil, hdr...)
}

// ListMessages returns a session's turns, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/journal/messages/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

//
// Questions
//

// ListQuestions returns the active catalog, seeding it on first use.
func (c *Client) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	var out questionsEnvelope
	if err := c.do(ctx, http.MethodGet, "/journal/questions", nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// ListAllQuestions returns active and inactive questions.
func (c *Client) ListAllQuestions(ctx context.Context) ([]domain.Question, error) {
	var out questionsEnvelope
	if err := c.do(ctx, http.MethodGet, "/journal/questions?all=true", nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// AddQuestion appends a question to the catalog.
func (c *Client) AddQuestion(ctx context.Context, text string) (*domain.Question, error) {
	body := struct {
		Question string `json:"question"`
	}{text}
	var out questionEnvelope
	if err := c.do(ctx, http.MethodPost, "/journal/questions", body, &out); err != nil {
		return nil, err
	}
	return out.Question, nil
}

// EditQuestion changes a question's text and, when order > 0, its order.
func (c *Client) EditQuestion(ctx context.Context, id, text string, order int) (*domain.Question, error) {
	body := struct {
		Question string `json:"question"`
		Order    int    `json:"order,omitempty"`
	}{text, order}
	var out questionEnvelope
	if err := c.do(ctx, http.MethodPut, "/journal/questions/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return out.Question, nil
}

// SetQuestionActive activates or deactivates a question.
func (c *Client) SetQuestionActive(ctx context.Context, id string, active bool) (*domain.Question, error) {
	body := struct {
		IsActive bool `json:"isActive"`
	}{active}
	var out questionEnvelope
	if err := c.do(ctx, http.MethodPatch, "/journal/questions/"+url.PathEscape(id)+"/active", body, &out); err != nil {
		return nil, err
	}
	return out.Question, nil
}

// DeleteQuestion removes a question.
func (c *Client) DeleteQuestion(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/journal/questions/"+url.PathEscape(id), nil, nil)
}

// ReorderQuestions applies all order changes in one request.
func (c *Client) ReorderQuestions(ctx context.Context, items []ReorderItem) error {
	body := struct {
		Questions []ReorderItem `json:"questions"`
	}{items}
	return c.do(ctx, http.MethodPut, "/journal/questions/reorder", body, nil)
}

//
// API key
//

// KeyStatus describes the stored key without revealing it.
type KeyStatus struct {
	HasKey     bool       `json:"hasKey"`
	KeyPreview string     `json:"keyPreview,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// KeyCheck is the outcome of validating the stored key upstream.
type KeyCheck struct {
	Success     bool `json:"success"`
	KeyValid    bool `json:"keyValid"`
	ModelsCount int  `json:"modelsCount"`
}

// SaveAPIKey stores the caller's provider key.
func (c *Client) SaveAPIKey(ctx context.Context, key string) error {
	body := struct {
		Key string `json:"key"`
	}{key}
	return c.do(ctx, http.MethodPost, "/api-key", body, nil)
}

// DeleteAPIKey removes the caller's key; deleting a missing key succeeds.
func (c *Client) DeleteAPIKey(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api-key", nil, nil)
}

// APIKeyStatus reports whether a key is stored.
func (c *Client) APIKeyStatus(ctx context.Context) (KeyStatus, error) {
	var out KeyStatus
	err := c.do(ctx, http.MethodGet, "/api-key/status", nil, &out)
	return out, err
}

// UseAPIKey validates the stored key against the provider.
func (c *Client) UseAPIKey(ctx context.Context) (KeyCheck, error) {
	var out KeyCheck
	err := c.do(ctx, http.MethodGet, "/api-key/use", nil, &out)
	return out, err
}
