// Message HTTP handlers.
//
// This file exposes the raw chat-turn log of a session:
//   - POST /journal/message              (persist one turn)
//   - GET  /journal/messages/{sessionId} (list turns, oldest first, ETag support)
//
// Handlers are transport-thin:
//   - bind inputs and pass them to MessageService, which normalizes text and
//     enforces length limits
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// A turn is stored at most once. A retried request is recognised either by
// the client's message id (unique per session) or by a previously recorded
// Idempotency-Key; both return the stored turn with `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
	"github.com/tbourn/go-journal-backend/internal/services"
)

//
// DTOs
//

// MessagePayload is one chat turn as the client holds it.
type MessagePayload struct {
	// ID is the client-side id of the turn; optional but recommended for retries.
	ID      string `json:"id" example:"m-1700000000000"`
	Role    string `json:"role" binding:"required" example:"user"`
	Content string `json:"content" binding:"required" example:"Pretty good, slept well."`
}

// SaveMessageRequest is the JSON payload for persisting a turn.
type SaveMessageRequest struct {
	SessionID            string         `json:"sessionId" binding:"required" example:"5b0c3c5e-7a51-4d5e-9d64-1b0e6f0f2a11"`
	Message              MessagePayload `json:"message"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex" example:"0"`
}

// SaveMessageResponse acknowledges a stored turn.
type SaveMessageResponse struct {
	Success bool            `json:"success" example:"true"`
	Message *domain.Message `json:"message,omitempty"`
}

// ListMessagesResponse contains every turn of a session.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

//
// Handlers
//

// SaveMessage godoc
// @ID          saveMessage
// @Summary     Persist one chat turn
// @Description Appends a user or assistant turn to the session's log.
// @Description Retries are safe: the same client message id or Idempotency-Key returns the stored turn.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                        false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body      handlers.SaveMessageRequest  true   "Turn payload"
// @Success     200              {object}  handlers.SaveMessageResponse
// @Failure     400              {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401              {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403              {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404              {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500              {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/message [post]
func (h *Handlers) SaveMessage(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sessionId and message{role,content} required")
		return
	}
	if req.CurrentQuestionIndex < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "currentQuestionIndex must be >= 0")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	m, replayed, err := h.messages.Save(c.Request.Context(), uid, services.SaveMessageInput{
		SessionID:      req.SessionID,
		ClientID:       req.Message.ID,
		Role:           req.Message.Role,
		Content:        req.Message.Content,
		QuestionIndex:  req.CurrentQuestionIndex,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusOK, SaveMessageResponse{Success: true, Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List the chat turns of a session
// @Description Oldest first. Supports conditional GET via ETag/If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       sessionId  path      string  true  "Session ID (UUID)"  format(uuid)
// @Success     200        {object}  handlers.ListMessagesResponse
// @Success     304        "Not Modified"
// @Failure     401        {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403        {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404        {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500        {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/messages/{sessionId} [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	sessionID := c.Param("sessionId")

	// Stats checks ownership, so its errors are final.
	count, newest, err := h.messages.Stats(ctx, uid, sessionID)
	if err != nil {
		failErr(c, err)
		return
	}
	if notModified(c, "messages", count, newest, sessionID) {
		return
	}

	items, err := h.messages.List(ctx, uid, sessionID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items})
}
