// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds request correlation, panic recovery and the request-scoped
// logger. Install RequestID first, then RedactingLogger, then Recovery, so a
// panic is logged with the request ID and the caller's user ID.
//
// The request-scoped logger lives under the "logger" Gin key and on the
// request context, where services read it with zerolog's log.Ctx.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HeaderRequestID propagates the correlation ID.
const HeaderRequestID = "X-Request-ID"

const (
	requestIDKey    = "requestID"
	requestIDHeader = HeaderRequestID
	loggerKey       = "logger"

	// maxQueryLogLength caps how much of a raw query string is logged.
	maxQueryLogLength = 2048
)

// Incoming IDs are echoed into headers and logs, so only short token-like
// values are accepted.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._\-:]{1,128}$`)

// RequestID reuses a well-formed X-Request-ID from the caller or generates a
// UUIDv4, then stores it in the Gin context and the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if !validRequestID.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Recovery turns a panic into a 500. Before anything is written the caller
// gets the JSON error envelope. A chat stream that already started gets a
// final error frame instead, so the client sees the turn fail rather than
// a silently truncated reply.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := c.GetString(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			switch {
			case !c.Writer.Written():
				c.Header(requestIDHeader, rid)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": rid,
					"code":       "internal_error",
					"message":    "internal server error",
				})
			case strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream"):
				_, _ = c.Writer.WriteString(`data: {"type":"error","errorText":"internal server error"}` + "\n\n")
				c.Writer.Flush()
				c.Abort()
			default:
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or one derived from the
// global logger when RedactingLogger did not run. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// setLogger stores lg for LoggerFrom and attaches it to the request context.
func setLogger(c *gin.Context, lg *zerolog.Logger) {
	c.Set(loggerKey, lg)
	if c.Request != nil {
		c.Request = c.Request.WithContext(lg.WithContext(c.Request.Context()))
	}
}

// truncate cuts s to max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
