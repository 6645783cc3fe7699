// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware that attaches a
// conservative set of HTTP security headers to journal API responses. Journal
// entries and key status are personal data, so responses under configured
// path prefixes are marked no-store. Browser feature policy allows only the
// microphone (same origin) because the journal UI records voice answers.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// exposedHeaders are response headers browser clients need to read.
var exposedHeaders = []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Retry-After"}

// SecurityOptions configures HTTP security headers emitted by SecurityHeaders.
//
// EnableHSTS controls whether to emit Strict-Transport-Security for HTTPS
// requests (never for plain HTTP). HSTSMaxAge defaults to 180 days.
//
// NoStorePrefixes lists path prefixes whose responses get
// Cache-Control: no-store (plus legacy Pragma/Expires). An entry of "/"
// applies it everywhere.
type SecurityOptions struct {
	EnableHSTS      bool
	HSTSMaxAge      time.Duration
	NoStorePrefixes []string
}

// SecurityHeaders returns a Gin middleware that adds security headers.
//
// Always sets:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//	Permissions-Policy: microphone=(self), geolocation=(), camera=(), payment=()
//	X-Permitted-Cross-Domain-Policies: none
//	Access-Control-Expose-Headers (merged with any existing value)
//
// Sets Cache-Control: no-store for NoStorePrefixes and HSTS for HTTPS requests
// when enabled.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "microphone=(self), geolocation=(), camera=(), payment=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")

		if hasPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		h.Set("Access-Control-Expose-Headers", mergeHeaderList(h.Get("Access-Control-Expose-Headers"), exposedHeaders))

		c.Next()
	}
}

// hasPrefix reports whether path falls under any of prefixes on a segment
// boundary ("/api-key" matches "/api-key/status", not "/api-keys").
func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "/" {
			return true
		}
		p = strings.TrimRight(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// mergeHeaderList appends add to a comma-separated header value, skipping
// names already present (case-insensitively).
func mergeHeaderList(cur string, add []string) string {
	seen := map[string]bool{}
	var out []string
	for _, v := range strings.Split(cur, ",") {
		if v = strings.TrimSpace(v); v != "" && !seen[strings.ToLower(v)] {
			seen[strings.ToLower(v)] = true
			out = append(out, v)
		}
	}
	for _, v := range add {
		if !seen[strings.ToLower(v)] {
			seen[strings.ToLower(v)] = true
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}

// isHTTPS reports whether the incoming request used HTTPS either directly
// (r.TLS != nil) or via a reverse proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
