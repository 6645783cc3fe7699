// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, storage, the AI provider, identity,
// media storage, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "journal-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and addresses the relational store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// LLMConfig selects the AI provider used by POST /chat.
type LLMConfig struct {
	Provider      string        // LLM_PROVIDER: openai|ollama
	OpenAIKey     string        // OPENAI_API_KEY, shared fallback key
	OpenAIBaseURL string        // OPENAI_BASE_URL, empty for api.openai.com
	OpenAIModel   string        // OPENAI_MODEL
	OllamaHost    string        // OLLAMA_HOST
	OllamaModel   string        // OLLAMA_MODEL
	MaxTokens     int           // LLM_MAX_TOKENS
	Temperature   float64       // LLM_TEMPERATURE in [0,2]
	Timeout       time.Duration // LLM_TIMEOUT, connect/header timeout
}

// AuthConfig configures request identity.
type AuthConfig struct {
	JWTSecret      string // AUTH_JWT_SECRET (HS256)
	AllowDevHeader bool   // AUTH_ALLOW_DEV_HEADER: trust X-User-ID
}

// MediaConfig configures where uploaded recordings are stored. S3 is used
// when S3Bucket is set, the local directory otherwise.
type MediaConfig struct {
	S3Bucket      string // S3_BUCKET
	S3Region      string // S3_REGION
	S3Endpoint    string // S3_ENDPOINT (MinIO, R2...)
	S3AccessKey   string // S3_ACCESS_KEY_ID
	S3SecretKey   string // S3_SECRET_ACCESS_KEY
	S3PublicURL   string // S3_PUBLIC_BASE_URL
	Dir           string // MEDIA_DIR
	BaseURL       string // MEDIA_BASE_URL, public prefix of local media
	MaxUploadSize int64  // UPLOAD_MAX_BYTES
}

// UseS3 reports whether uploads go to an S3-compatible bucket.
func (m MediaConfig) UseS3() bool { return strings.TrimSpace(m.S3Bucket) != "" }

// RedisConfig addresses the shared rate-limit store. An empty Addr keeps the
// limiter in process.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // 0 disables; chat streams outlive short timeouts
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Credential vault
	KeySecret string // KEY_SECRET, base64 of 32 bytes; empty disables the vault

	// Question catalog
	TemplateOwnerID string // TEMPLATE_OWNER_ID, source of default questions

	// AI provider
	LLM LLMConfig

	// Identity
	Auth AuthConfig

	// Uploads
	Media MediaConfig

	// Session lifecycle events
	AMQPURL string // AMQP_URL; empty disables publishing

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	Redis     RedisConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "journal.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		KeySecret:       strings.TrimSpace(getenv("KEY_SECRET", "")),
		TemplateOwnerID: getenv("TEMPLATE_OWNER_ID", "template"),

		// AI provider
		LLM: LLMConfig{
			Provider:      strings.ToLower(getenv("LLM_PROVIDER", "openai")),
			OpenAIKey:     strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getenv("OPENAI_MODEL", "gpt-3.5-turbo"),
			OllamaHost:    getenv("OLLAMA_HOST", "http://localhost:11434"),
			OllamaModel:   getenv("OLLAMA_MODEL", "llama3"),
			MaxTokens:     getint("LLM_MAX_TOKENS", 1000),
			Temperature:   getfloat("LLM_TEMPERATURE", 0.7),
			Timeout:       getdur("LLM_TIMEOUT", 30*time.Second),
		},

		// Identity
		Auth: AuthConfig{
			JWTSecret:      getenv("AUTH_JWT_SECRET", ""),
			AllowDevHeader: getbool("AUTH_ALLOW_DEV_HEADER", false),
		},

		// Uploads
		Media: MediaConfig{
			S3Bucket:      getenv("S3_BUCKET", ""),
			S3Region:      getenv("S3_REGION", "us-east-1"),
			S3Endpoint:    getenv("S3_ENDPOINT", ""),
			S3AccessKey:   getenv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey:   getenv("S3_SECRET_ACCESS_KEY", ""),
			S3PublicURL:   getenv("S3_PUBLIC_BASE_URL", ""),
			Dir:           getenv("MEDIA_DIR", "media"),
			BaseURL:       getenv("MEDIA_BASE_URL", "/media"),
			MaxUploadSize: int64(getint("UPLOAD_MAX_BYTES", 10<<20)),
		},

		AMQPURL: getenv("AMQP_URL", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "journal-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.WriteTimeout < 0 {
		return cfg, errors.New("WRITE_TIMEOUT must be >= 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be sqlite or postgres")
	}
	if strings.TrimSpace(cfg.TemplateOwnerID) == "" {
		return cfg, errors.New("TEMPLATE_OWNER_ID must not be empty")
	}
	switch cfg.LLM.Provider {
	case "openai", "ollama":
	default:
		return cfg, errors.New("LLM_PROVIDER must be openai or ollama")
	}
	if cfg.LLM.MaxTokens <= 0 {
		return cfg, errors.New("LLM_MAX_TOKENS must be > 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return cfg, errors.New("LLM_TEMPERATURE must be between 0 and 2")
	}
	if cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT must be > 0")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowDevHeader {
		return cfg, errors.New("AUTH_JWT_SECRET is required unless AUTH_ALLOW_DEV_HEADER is set")
	}
	if !cfg.Media.UseS3() && strings.TrimSpace(cfg.Media.Dir) == "" {
		return cfg, errors.New("MEDIA_DIR must not be empty when S3_BUCKET is unset")
	}
	if cfg.Media.MaxUploadSize <= 0 {
		return cfg, errors.New("UPLOAD_MAX_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
