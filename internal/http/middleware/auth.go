// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Every journal endpoint is scoped to
// the authenticated user, so Auth must run before any handler, idempotency
// lookup or per-user rate limiter that reads the "userID" context key.
//
// Identity sources, in order:
//   - Authorization: Bearer <JWT> signed with HS256; the "sub" claim is the user id.
//   - X-User-ID header, only when AllowDevHeader is set (local development and tests).
//
// Requests without a usable identity are rejected with 401 and the standard
// error envelope.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserIDKey is the Gin context key holding the authenticated user id.
	UserIDKey = "userID"
	// HeaderUserID is the development identity header.
	HeaderUserID = "X-User-ID"

	maxUserIDLen = 64
)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 signing secret. Empty disables bearer tokens.
	Secret []byte
	// AllowDevHeader accepts X-User-ID as the identity when no token is sent.
	AllowDevHeader bool
}

var errNoIdentity = errors.New("no identity")

// Auth returns a middleware that authenticates the request and stores the
// user id under UserIDKey. It also enriches the request-scoped logger with
// the user id.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := identify(c, opts)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(UserIDKey, uid)

		lg := LoggerFrom(c).With().Str("user_id", uid).Logger()
		setLogger(c, &lg)

		c.Next()
	}
}

// identify extracts a user id from a bearer token or the dev header.
func identify(c *gin.Context, opts AuthOptions) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || len(opts.Secret) == 0 {
			return "", errNoIdentity
		}
		return subjectFromToken(strings.TrimSpace(raw), opts.Secret)
	}
	if opts.AllowDevHeader {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); validUserID(uid) {
			return uid, nil
		}
	}
	return "", errNoIdentity
}

// subjectFromToken verifies an HS256 token and returns its subject.
func subjectFromToken(raw string, secret []byte) (string, error) {
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return "", errNoIdentity
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || !validUserID(sub) {
		return "", errNoIdentity
	}
	return sub, nil
}

func validUserID(s string) bool {
	return s != "" && len(s) <= maxUserIDLen
}

// UserID returns the authenticated user id, or "" when Auth did not run.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
