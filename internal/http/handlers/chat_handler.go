// Chat HTTP handler.
//
// POST /chat streams one AI companion reply as Server-Sent Events:
//
//	data: {"type":"text-delta","textDelta":"Hel"}
//	data: {"type":"text-delta","textDelta":"lo"}
//	data: [DONE]
//
// A provider failure after the stream has started is reported as
//
//	data: {"type":"error","errorText":"..."}
//
// and the stream ends without the [DONE] sentinel. Failures before the first
// byte use the regular JSON error envelope. Turns are not persisted here; the
// client saves them through POST /journal/message once the reply is complete.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/common"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
	"github.com/tbourn/go-journal-backend/internal/llm"
	"github.com/tbourn/go-journal-backend/internal/services"
)

// sseDone terminates a successful stream.
const sseDone = "[DONE]"

//
// DTOs
//

// ChatTurn is one prior turn of the conversation.
type ChatTurn struct {
	Role    string `json:"role" example:"user"`
	Content string `json:"content" example:"I slept badly."`
}

// ChatRequest asks for the next assistant reply.
type ChatRequest struct {
	Messages             []ChatTurn `json:"messages" binding:"required"`
	SessionID            string     `json:"sessionId,omitempty" example:"5b0c3c5e-7a51-4d5e-9d64-1b0e6f0f2a11"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex" example:"0"`
}

// ChatEvent is the JSON payload of one SSE frame.
type ChatEvent struct {
	Type      string `json:"type" example:"text-delta"`
	TextDelta string `json:"textDelta,omitempty" example:"Hello"`
	ErrorText string `json:"errorText,omitempty"`
}

//
// Handlers
//

// Chat godoc
// @ID          chat
// @Summary     Stream the companion's next reply
// @Description Server-Sent Events. Each frame is `data: <ChatEvent JSON>`; a successful stream ends with `data: [DONE]`.
// @Description Uses the caller's stored API key when present, otherwise the server's shared key.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       body  body      handlers.ChatRequest  true  "Conversation so far"
// @Success     200   {object}  handlers.ChatEvent    "Event stream"
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request, or the provider rejected the key"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403   {object}  handlers.ErrorResponse  "Session belongs to another user"
// @Failure     404   {object}  handlers.ErrorResponse  "Session not found"
// @Failure     429   {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500   {object}  handlers.ErrorResponse  "Provider or configuration failure"
// @Router      /chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "messages required")
		return
	}
	turns := make([]llm.Turn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = llm.Turn{Role: m.Role, Content: m.Content}
	}

	ctx := c.Request.Context()
	stream, err := h.chat.Stream(ctx, uid, services.ChatRequest{
		Turns:         turns,
		SessionID:     req.SessionID,
		QuestionIndex: req.CurrentQuestionIndex,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	done := middleware.TrackStream()
	outcome := "done"
	defer func() { done(outcome) }()

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	lg := middleware.LoggerFrom(c)
	for {
		select {
		case <-ctx.Done():
			outcome = "canceled"
			return
		case r, open := <-stream:
			switch {
			case !open:
				outcome = "error"
				_ = writeEvent(c.Writer, ChatEvent{Type: "error", ErrorText: "stream ended unexpectedly"})
				return
			case r.Error != nil:
				outcome = "error"
				lg.Warn().Err(r.Error).Msg("chat stream failed")
				_ = writeEvent(c.Writer, ChatEvent{Type: "error", ErrorText: streamErrorText(r.Error)})
				return
			case r.Done:
				_ = writeData(c.Writer, sseDone)
				return
			case r.Content != "":
				if err := writeEvent(c.Writer, ChatEvent{Type: "text-delta", TextDelta: r.Content}); err != nil {
					outcome = "canceled"
					return
				}
			}
		}
	}
}

// streamErrorText is the client-facing text of a mid-stream failure.
func streamErrorText(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidKey):
		return "invalid API key"
	case errors.Is(err, common.ErrRateLimited):
		return "provider rate limit exceeded"
	case errors.Is(err, common.ErrNetwork):
		return "provider unreachable"
	default:
		return err.Error()
	}
}

// writeEvent writes one JSON SSE frame and flushes it.
func writeEvent(w gin.ResponseWriter, ev ChatEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeData(w, string(b))
}

// writeData writes a raw `data:` frame and flushes it.
func writeData(w gin.ResponseWriter, data string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
