package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-journal-backend/internal/config"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
	"github.com/tbourn/go-journal-backend/internal/repo"
	"github.com/tbourn/go-journal-backend/internal/vault"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:     "/api",
		RateRPS:         100,
		RateBurst:       50,
		TemplateOwnerID: "template",
		IdempotencyTTL:  time.Hour,
		Auth:            config.AuthConfig{JWTSecret: "router-secret", AllowDevHeader: true},
		Media:           config.MediaConfig{MaxUploadSize: 1 << 20},
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db}, cfg)
	return r, db
}

func serve(r http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = serve(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = serve(r, http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be echoed, got %q", got)
	}
}

func TestRegisterRoutes_APIRequiresIdentity(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := serve(r, http.MethodGet, "/api/journal/history", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous history expected 401, got %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/journal/history", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_BearerToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AllowDevHeader = false
	r, _ := newTestRouter(t, cfg)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "jwt-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w := serve(r, http.MethodPost, "/api/journal/session", []byte(`{}`), map[string]string{"Authorization": "Bearer " + signed})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Session domain.Session `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.UserID != "jwt-user" {
		t.Fatalf("session owner = %q", body.Session.UserID)
	}

	// dev header is ignored when disabled
	w = serve(r, http.MethodPost, "/api/journal/session", []byte(`{}`), map[string]string{middleware.HeaderUserID: "dev"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("dev header with AllowDevHeader=false expected 401, got %d", w.Code)
	}
}

func TestRegisterRoutes_JournalFlow(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	u := map[string]string{middleware.HeaderUserID: "u1"}

	// questions are seeded on first read
	w := serve(r, http.MethodGet, "/api/journal/questions", nil, u)
	if w.Code != http.StatusOK {
		t.Fatalf("list questions = %d: %s", w.Code, w.Body.String())
	}
	var qs struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &qs); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(qs.Questions) == 0 {
		t.Fatalf("expected default questions")
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("journal routes must be no-store, got %q", cc)
	}

	w = serve(r, http.MethodPost, "/api/journal/session", []byte(`{}`), u)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session = %d", w.Code)
	}
	var created struct {
		Session domain.Session `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	sid := created.Session.ID

	msg := []byte(`{"sessionId":"` + sid + `","message":{"id":"m-1","role":"user","content":"slept well"},"currentQuestionIndex":0}`)
	idem := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "save-m-1-key"}
	w = serve(r, http.MethodPost, "/api/journal/message", msg, idem)
	if w.Code != http.StatusOK {
		t.Fatalf("save message = %d: %s", w.Code, w.Body.String())
	}

	// retry with the same key is answered without a second row
	w = serve(r, http.MethodPost, "/api/journal/message", msg, idem)
	if w.Code != http.StatusOK {
		t.Fatalf("replayed save = %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/journal/messages/"+sid, nil, u)
	if w.Code != http.StatusOK {
		t.Fatalf("list messages = %d", w.Code)
	}
	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "slept well" {
		t.Fatalf("messages = %+v", msgs.Messages)
	}

	// other users cannot read the session
	w = serve(r, http.MethodGet, "/api/journal/session/"+sid, nil, map[string]string{middleware.HeaderUserID: "u2"})
	if w.Code != http.StatusForbidden && w.Code != http.StatusNotFound {
		t.Fatalf("foreign session read = %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/journal/history", nil, u)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Fatalf("history should carry an ETag")
	}
}

func TestRegisterRoutes_APIKeyWithoutVault(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := serve(r, http.MethodPost, "/api/api-key", []byte(`{"key":"sk-test"}`), map[string]string{middleware.HeaderUserID: "u1"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("save key without vault expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "configuration_error") {
		t.Fatalf("expected configuration_error, got %s", w.Body.String())
	}
}

func TestRegisterRoutes_JSONBodyCap(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	big := `{"question":"` + strings.Repeat("a", jsonBodyLimit) + `"}`
	w := serve(r, http.MethodPost, "/api/journal/questions", []byte(big), map[string]string{middleware.HeaderUserID: "u1"})
	if w.Code < 400 || w.Code >= 500 {
		t.Fatalf("oversized body expected 4xx, got %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyLookupFailure(t *testing.T) {
	r, db := newTestRouter(t, testConfig())

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, http.MethodPost, "/api/journal/message", []byte(`{}`), map[string]string{
		middleware.HeaderUserID:         "u1",
		middleware.HeaderIdempotencyKey: "force-error-key",
	})
	if w.Code < 400 {
		t.Fatalf("expected an error status with a closed store, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerToggle(t *testing.T) {
	cfg := testConfig()
	r, _ := newTestRouter(t, cfg)
	if w := serve(r, http.MethodGet, "/swagger/doc.json", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled expected 404, got %d", w.Code)
	}

	cfg.SwaggerEnabled = true
	r, _ = newTestRouter(t, cfg)
	w := serve(r, http.MethodGet, "/swagger/doc.json", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("swagger doc = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/journal/session") {
		t.Fatalf("swagger doc missing journal routes")
	}
}

func Test_sessionRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := sessionRepoShim{}
	ctx := context.Background()

	s1, err := shim.CreateSession(ctx, db, "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s1 == nil || s1.ID == "" || s1.UserID != "u1" {
		t.Fatalf("CreateSession returned bad session: %+v", s1)
	}

	got, err := shim.GetSession(ctx, db, s1.ID)
	if err != nil || got.ID != s1.ID {
		t.Fatalf("GetSession: %+v %v", got, err)
	}

	if err := shim.SetSessionStarred(ctx, db, s1.ID, "u1", true); err != nil {
		t.Fatalf("SetSessionStarred: %v", err)
	}
	if err := shim.UpdateSessionCompleted(ctx, db, s1.ID, 2); err != nil {
		t.Fatalf("UpdateSessionCompleted: %v", err)
	}
	if err := shim.CreateEntries(ctx, db, s1.ID, []domain.Entry{{QuestionKey: "q1", Question: "How?", Answer: "Fine"}}); err != nil {
		t.Fatalf("CreateEntries: %v", err)
	}

	if _, err := shim.CreateSession(ctx, db, "u1"); err != nil {
		t.Fatalf("CreateSession 2: %v", err)
	}

	n, err := shim.CountSessions(ctx, db, "u1", false)
	if err != nil || n != 2 {
		t.Fatalf("CountSessions = %d, %v", n, err)
	}
	starred, err := shim.CountSessions(ctx, db, "u1", true)
	if err != nil || starred != 1 {
		t.Fatalf("CountSessions starred = %d, %v", starred, err)
	}

	page, err := shim.ListSessionsPage(ctx, db, "u1", false, 0, 1)
	if err != nil || len(page) != 1 {
		t.Fatalf("ListSessionsPage = %d, %v", len(page), err)
	}

	entries, err := shim.ListEntriesBySessions(ctx, db, []string{s1.ID})
	if err != nil || len(entries[s1.ID]) != 1 {
		t.Fatalf("ListEntriesBySessions = %+v, %v", entries, err)
	}

	cnt, newest, err := shim.SessionsStats(ctx, db, "u1", false)
	if err != nil || cnt != 2 || newest == nil {
		t.Fatalf("SessionsStats = %d %v %v", cnt, newest, err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error { return shim.DeleteSession(ctx, tx, s1.ID) }); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := shim.GetSession(ctx, db, s1.ID); err == nil {
		t.Fatalf("session should be gone")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", []byte("0123456789AB"), nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
	w = serve(r, http.MethodPost, "/echo", []byte("0123"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("small body expected 200, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/chat"}:       "/chat",
		{"/", "/chat"}:      "/chat",
		{"/api", "/chat"}:   "/api/chat",
		{"/api/v1", "/x/y"}: "/api/v1/x/y",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Fatalf("joinPath(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestRegisterRoutes_IdempotencyKeyDoesNotBypassChatLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 4
	r, _ := newTestRouter(t, cfg)
	u := map[string]string{middleware.HeaderUserID: "u1"}

	w := serve(r, http.MethodPost, "/api/journal/session", []byte(`{}`), u)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session = %d", w.Code)
	}
	var created struct {
		Session domain.Session `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	msg := []byte(`{"sessionId":"` + created.Session.ID + `","message":{"id":"m-1","role":"user","content":"hi"},"currentQuestionIndex":0}`)
	idem := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "k1"}
	if w := serve(r, http.MethodPost, "/api/journal/message", msg, idem); w.Code != http.StatusOK {
		t.Fatalf("save message = %d: %s", w.Code, w.Body.String())
	}

	// two tokens left; chat costs four whatever key it carries
	w = serve(r, http.MethodPost, "/api/chat", []byte(`{"messages":[]}`), idem)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("chat reusing a saved key = %d, want 429", w.Code)
	}

	// replayed saves stay free
	for i := 0; i < 3; i++ {
		if w := serve(r, http.MethodPost, "/api/journal/message", msg, idem); w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d: %s", i, w.Code, w.Body.String())
		}
	}
}

func TestRegisterRoutes_SaveAPIKeyBody(t *testing.T) {
	master, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := vault.New(master)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{DB: newTestDB(t), Cipher: cipher}, testConfig())
	u := map[string]string{middleware.HeaderUserID: "u1"}

	w := serve(r, http.MethodPost, "/api/api-key", []byte(`{"key":"sk-abc123"}`), u)
	if w.Code != http.StatusOK {
		t.Fatalf("save key = %d: %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/api-key/status", nil, u)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"hasKey":true`) {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}
