// Session HTTP handlers.
//
// This file exposes journal session endpoints:
//   - POST   /journal/session        (create today's session)
//   - GET    /journal/session/{id}   (fetch one)
//   - DELETE /journal/session/{id}   (delete with entries and turns)
//   - PATCH  /journal/star           (toggle the bookmark)
//   - GET    /journal/history        (paginated, ETag support)
//   - POST   /journal/save           (progress counter + entries)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/services"
	"github.com/tbourn/go-journal-backend/internal/utils"
)

// historyPageSize is the default page size of GET /journal/history.
const historyPageSize = 50

//
// DTOs
//

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session *domain.Session `json:"session"`
}

// SuccessResponse is the generic acknowledgement body.
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}

// StarRequest toggles the bookmark of a session.
type StarRequest struct {
	SessionID string `json:"sessionId" binding:"required" example:"5b0c3c5e-7a51-4d5e-9d64-1b0e6f0f2a11"`
	// Starred is a pointer so that an explicit false is distinguishable from a missing field.
	Starred *bool `json:"starred" binding:"required" example:"true"`
}

// StarResponse echoes the stored flag.
type StarResponse struct {
	Success bool `json:"success" example:"true"`
	Starred bool `json:"starred" example:"true"`
}

// HistoryResponse wraps a page of sessions (with entries) and pagination.
type HistoryResponse struct {
	Sessions   []domain.Session `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

// EntryPayload is one structured answer in a save request.
type EntryPayload struct {
	QuestionKey string  `json:"questionKey" example:"mood"`
	Question    string  `json:"question" example:"How are you feeling today?"`
	Answer      string  `json:"answer" example:"Calm, a bit tired."`
	AudioURL    *string `json:"audioUrl,omitempty" example:"https://cdn.example.com/audio/u1/1700000000000-note.webm"`
}

// SaveProgressRequest stores the completion counter and appends entries.
type SaveProgressRequest struct {
	SessionID string         `json:"sessionId" binding:"required" example:"5b0c3c5e-7a51-4d5e-9d64-1b0e6f0f2a11"`
	Entries   []EntryPayload `json:"entries"`
	Completed *int           `json:"completed" binding:"required" example:"3"`
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Start a journal session
// @Description Creates a session dated now with completed = 0.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
// @Success     201  {object}  handlers.SessionResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/session [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	s, err := h.sessions.Create(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, SessionResponse{Session: s})
}

// GetSession godoc
// @ID          getSession
// @Summary     Fetch a journal session
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Session ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SessionResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /journal/session/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	s, err := h.sessions.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionResponse{Session: s})
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a journal session
// @Description Deletes the session together with its entries and chat turns.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Session ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /journal/session/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}

// StarSession godoc
// @ID          starSession
// @Summary     Star or unstar a session
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.StarRequest  true  "Star payload"
// @Success     200   {object}  handlers.StarResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404   {object}  handlers.ErrorResponse  "Session not found"
// @Router      /journal/star [patch]
func (h *Handlers) StarSession(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req StarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sessionId and starred required")
		return
	}
	if err := h.sessions.Star(c.Request.Context(), uid, req.SessionID, *req.Starred); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, StarResponse{Success: true, Starred: *req.Starred})
}

// History godoc
// @ID          history
// @Summary     List past sessions with their entries
// @Description Most recent first. Supports conditional GET via ETag/If-None-Match.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
// @Param       onlyStarred  query     bool  false  "Only starred sessions"  default(false)
// @Param       page         query     int   false  "Page number"            minimum(1) default(1)
// @Param       page_size    query     int   false  "Items per page"         minimum(1) maximum(100) default(50)
// @Success     200          {object}  handlers.HistoryResponse
// @Success     304          "Not Modified"
// @Failure     401          {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500          {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/history [get]
func (h *Handlers) History(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	onlyStarred := utils.BoolDefault(c.Query("onlyStarred"), false)
	page, pageSize := clampPagination(c, historyPageSize)

	// ETag pre-check (best effort).
	if count, newest, err := h.sessions.Stats(ctx, uid, onlyStarred); err == nil {
		if notModified(c, "history", count, newest, onlyStarred, page, pageSize) {
			return
		}
	}

	items, total, err := h.sessions.History(ctx, uid, onlyStarred, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{
		Sessions:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// SaveProgress godoc
// @ID          saveProgress
// @Summary     Save conversation progress
// @Description Stores the completed counter (0..number of active questions) and appends entries.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.SaveProgressRequest  true  "Progress payload"
// @Success     200   {object}  handlers.SuccessResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request or completed out of range"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403   {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404   {object}  handlers.ErrorResponse  "Session not found"
// @Router      /journal/save [post]
func (h *Handlers) SaveProgress(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req SaveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sessionId and completed required")
		return
	}
	entries := make([]services.EntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, services.EntryInput{
			QuestionKey: e.QuestionKey,
			Question:    e.Question,
			Answer:      e.Answer,
			AudioURL:    e.AudioURL,
		})
	}
	if _, err := h.sessions.SaveProgress(c.Request.Context(), uid, req.SessionID, entries, *req.Completed); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}
