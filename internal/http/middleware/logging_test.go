package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if c.GetString(requestIDKey) != c.Writer.Header().Get(requestIDHeader) {
			t.Fatal("context and header request id differ")
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"absent", "", false},
		{"token", "Z-REQ-123", true},
		{"uuid", "123e4567-e89b-12d3-a456-426614174000", true},
		{"log injection", "abc\n{\"level\":\"error\"}", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if tc.keep && got != tc.incoming {
				t.Fatalf("request id = %q; want %q", got, tc.incoming)
			}
			if !tc.keep && (got == "" || got == tc.incoming) {
				t.Fatalf("expected a generated id, got %q", got)
			}
		})
	}
}

func TestRecovery_BeforeWrite_JSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.Use(Auth(AuthOptions{AllowDevHeader: true}))
	r.Use(Recovery())
	r.GET("/journal/history", func(c *gin.Context) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/journal/history", nil)
	req.Header.Set(HeaderUserID, "u-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	var panicLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "panic recovered") {
			panicLine = line
		}
	}
	if !strings.Contains(panicLine, `"user_id":"u-panic"`) || !strings.Contains(panicLine, `"stack"`) {
		t.Fatalf("panic log lacks request fields: %s", panicLine)
	}
}

func TestRecovery_MidStream_ErrorFrame(t *testing.T) {
	gin.SetMode(gin.TestMode)
	captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.POST("/chat", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Status(http.StatusOK)
		_, _ = c.Writer.WriteString(`data: {"type":"text-delta","textDelta":"Hel"}` + "\n\n")
		c.Writer.Flush()
		panic("provider adapter bug")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))

	body := w.Body.String()
	if !strings.HasPrefix(body, `data: {"type":"text-delta"`) {
		t.Fatalf("stream prefix lost: %q", body)
	}
	if !strings.HasSuffix(body, `data: {"type":"error","errorText":"internal server error"}`+"\n\n") {
		t.Fatalf("missing error frame: %q", body)
	}
}

func TestRecovery_AfterPlainWrite_NoBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/upload", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upload", nil))

	if w.Body.String() != "partial-body" {
		t.Fatalf("body = %q; want only the partial write", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndRequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)

	buf1 := captureLogger(t)
	r1 := gin.New()
	r1.Use(RequestID())
	r1.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	r1.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/use", nil))
	if !strings.Contains(buf1.String(), `"message":"custom"`) || strings.Contains(buf1.String(), `"request_id"`) {
		t.Fatalf("fallback logger output unexpected: %s", buf1.String())
	}

	buf2 := captureLogger(t)
	r2 := gin.New()
	r2.Use(RequestID())
	r2.Use(RedactingLogger(RedactOptions{}))
	r2.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom2")
		c.Status(http.StatusOK)
	})
	r2.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/use", nil))
	if !strings.Contains(buf2.String(), `"message":"custom2"`) || !strings.Contains(buf2.String(), `"request_id"`) {
		t.Fatalf("request-scoped logger output unexpected: %s", buf2.String())
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"abcdefgh", 5, "abcde…"},
		{"abc", 0, "abc"},
	} {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
