// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, identity, idempotency, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all infrastructure injected
//   - Every journal route requires an authenticated user
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/blob"
	"github.com/tbourn/go-journal-backend/internal/config"
	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/events"
	"github.com/tbourn/go-journal-backend/internal/http/docs"
	"github.com/tbourn/go-journal-backend/internal/http/handlers"
	"github.com/tbourn/go-journal-backend/internal/http/middleware"
	"github.com/tbourn/go-journal-backend/internal/llm"
	"github.com/tbourn/go-journal-backend/internal/repo"
	"github.com/tbourn/go-journal-backend/internal/services"
	"github.com/tbourn/go-journal-backend/internal/vault"
)

const (
	// jsonBodyLimit caps every non-upload request body.
	jsonBodyLimit = 1 << 20
	// multipartOverhead is the slack allowed on top of UPLOAD_MAX_BYTES for
	// multipart boundaries and part headers.
	multipartOverhead = 64 << 10
	// maxMessageRunes caps a stored chat turn.
	maxMessageRunes = 8000
)

// Deps is the infrastructure RegisterRoutes wires into the services.
type Deps struct {
	DB     *gorm.DB
	Cipher *vault.Cipher // nil or unconfigured: key endpoints fail with configuration_error
	LLM    *llm.Factory
	Blob   blob.Store
	Events events.Publisher // nil disables lifecycle events
	// RateStore backs a shared rate limiter; nil keeps limits in process.
	RateStore redis.Scripter
	// MediaDir is served at /media when recordings are stored locally.
	MediaDir string
}

// sessionRepoShim adapts the repository free functions to the
// services.SessionRepo interface expected by the SessionService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type sessionRepoShim struct{}

func (sessionRepoShim) CreateSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error) {
	return repo.CreateSession(ctx, db, userID)
}

func (sessionRepoShim) GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	return repo.GetSession(ctx, db, id)
}

func (sessionRepoShim) DeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteSession(ctx, db, id)
}

func (sessionRepoShim) SetSessionStarred(ctx context.Context, db *gorm.DB, id, userID string, starred bool) error {
	return repo.SetSessionStarred(ctx, db, id, userID, starred)
}

func (sessionRepoShim) UpdateSessionCompleted(ctx context.Context, db *gorm.DB, id string, completed int) error {
	return repo.UpdateSessionCompleted(ctx, db, id, completed)
}

func (sessionRepoShim) CountSessions(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, error) {
	return repo.CountSessions(ctx, db, userID, onlyStarred)
}

func (sessionRepoShim) ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool, offset, limit int) ([]domain.Session, error) {
	return repo.ListSessionsPage(ctx, db, userID, onlyStarred, offset, limit)
}

func (sessionRepoShim) CreateEntries(ctx context.Context, db *gorm.DB, sessionID string, entries []domain.Entry) error {
	return repo.CreateEntries(ctx, db, sessionID, entries)
}

func (sessionRepoShim) ListEntriesBySessions(ctx context.Context, db *gorm.DB, sessionIDs []string) (map[string][]domain.Entry, error) {
	return repo.ListEntriesBySessions(ctx, db, sessionIDs)
}

func (sessionRepoShim) SessionsStats(ctx context.Context, db *gorm.DB, userID string, onlyStarred bool) (int64, *time.Time, error) {
	return repo.SessionsStats(ctx, db, userID, onlyStarred)
}

// NewServices builds the application services over d.
func NewServices(d Deps, cfg config.Config) handlers.Deps {
	questions := services.NewQuestionService(d.DB, cfg.TemplateOwnerID)
	apiKeys := &services.APIKeyService{DB: d.DB, Cipher: d.Cipher}
	chat := &services.ChatService{DB: d.DB, Catalog: questions, Keys: apiKeys}
	if d.LLM != nil {
		apiKeys.Validator = d.LLM.Validator()
		chat.Providers = d.LLM
	}
	return handlers.Deps{
		Sessions:  services.NewSessionService(d.DB, sessionRepoShim{}, questions, d.Events),
		Messages:  &services.MessageService{DB: d.DB, MaxContentRunes: maxMessageRunes, IdempotencyTTL: cfg.IdempotencyTTL},
		Questions: questions,
		APIKeys:   apiKeys,
		Chat:      chat,
		Uploads:   &services.UploadService{Store: d.Blob},
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the journal API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and Security headers
//  7. Gzip (the SSE chat stream is excluded)
//
// and, on the API group only:
//  8. Auth: bearer JWT or dev header
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, Redis-backed when configured)
//  11. Body size limit (uploads get their own cap)
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	registerRoutes(r, d, cfg, handlers.New(NewServices(d, cfg)))
}

func registerRoutes(r *gin.Engine, d Deps, cfg config.Config, h *handlers.Handlers) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (Authorization is always masked)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(middleware.MetricsOptions{
		StreamPaths: []string{joinPath(apiBase, "/chat")},
	}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{joinPath(apiBase, "/api-key"), joinPath(apiBase, "/journal")},
	}))

	// 7) Compression, never on the event stream
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{joinPath(apiBase, "/chat")})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Locally stored recordings
	if d.MediaDir != "" {
		r.Static("/media", d.MediaDir)
	}

	// 8-10) Identity, idempotency, rate limiting
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.Auth(middleware.AuthOptions{
		Secret:         []byte(cfg.Auth.JWTSecret),
		AllowDevHeader: cfg.Auth.AllowDevHeader,
	}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			// Only message saves record keys; a key reused elsewhere must not
			// skip the limiter.
			ReplayRoutes: []string{joinPath(apiBase, "/journal/message")},
		},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			return repo.HasIdempotencyKey(ctx, d.DB, userID, key, now)
		},
	))
	api.Use(newLimiter(d.RateStore, cfg).Handler())

	// 11) Body caps
	jsonAPI := api.Group("", limitBody(jsonBodyLimit))
	{
		// API key
		jsonAPI.POST("/api-key", h.SaveAPIKey)
		jsonAPI.DELETE("/api-key", h.DeleteAPIKey)
		jsonAPI.GET("/api-key/status", h.APIKeyStatus)
		jsonAPI.GET("/api-key/use", h.UseAPIKey)

		// Sessions
		jsonAPI.POST("/journal/session", h.CreateSession)
		jsonAPI.GET("/journal/session/:id", h.GetSession)
		jsonAPI.DELETE("/journal/session/:id", h.DeleteSession)
		jsonAPI.PATCH("/journal/star", h.StarSession)
		jsonAPI.GET("/journal/history", h.History)
		jsonAPI.POST("/journal/save", h.SaveProgress)

		// Messages
		jsonAPI.POST("/journal/message", h.SaveMessage)
		jsonAPI.GET("/journal/messages/:sessionId", h.ListMessages)

		// Questions
		jsonAPI.GET("/journal/questions", h.ListQuestions)
		jsonAPI.POST("/journal/questions", h.AddQuestion)
		jsonAPI.PUT("/journal/questions/reorder", h.ReorderQuestions)
		jsonAPI.PUT("/journal/questions/:id", h.EditQuestion)
		jsonAPI.PATCH("/journal/questions/:id/active", h.SetQuestionActive)
		jsonAPI.DELETE("/journal/questions/:id", h.DeleteQuestion)

		// Chat
		jsonAPI.POST("/chat", h.Chat)
	}
	api.POST("/upload", limitBody(cfg.Media.MaxUploadSize+multipartOverhead), h.Upload)
}

// corsMiddleware returns the CORS chain: allow-all when no origins are
// configured, otherwise an allowlist that echoes the matching Origin.
func corsMiddleware(c config.CORSConfig) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	expose := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}

	if len(c.AllowedOrigins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    expose,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     c.AllowedOrigins,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// Token costs per request. Chat turns and key checks call the AI provider.
const (
	chatCost     = 4
	keyCheckCost = 2
)

// newLimiter picks the Redis-backed limiter when a store is configured.
func newLimiter(store redis.Scripter, cfg config.Config) middleware.Limiter {
	cost := middleware.WithCost(middleware.CostByRoute(map[string]int{
		joinPath(cfg.APIBasePath, "/chat"):        chatCost,
		joinPath(cfg.APIBasePath, "/api-key/use"): keyCheckCost,
	}))
	if store != nil {
		return middleware.NewRedisRateLimiter(store, cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), cost)
	}
	return middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), cost)
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath joins the API base with a route path.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
