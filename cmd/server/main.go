// Command server runs the journal HTTP API.
//
// @title                      Journal API
// @version                    1.0
// @description                Guided daily journaling: sessions, chat turns, question catalogs, and encrypted provider keys.
// @BasePath                   /api
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                "Bearer <HS256 JWT>"; the token subject is the user id.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-journal-backend/internal/blob"
	"github.com/tbourn/go-journal-backend/internal/config"
	"github.com/tbourn/go-journal-backend/internal/events"
	httpapi "github.com/tbourn/go-journal-backend/internal/http"
	"github.com/tbourn/go-journal-backend/internal/llm"
	"github.com/tbourn/go-journal-backend/internal/observability"
	"github.com/tbourn/go-journal-backend/internal/repo"
	"github.com/tbourn/go-journal-backend/internal/services"
	"github.com/tbourn/go-journal-backend/internal/sysutil"
	"github.com/tbourn/go-journal-backend/internal/vault"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

func main() {
	// "server genkey" prints a fresh KEY_SECRET and exits.
	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		key, err := vault.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "genkey:", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.NewLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	gin.SetMode(cfg.GinMode)

	blobKind := "local"
	if cfg.Media.UseS3() {
		blobKind = "s3"
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{
		Version:     sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version),
		DBDriver:    cfg.DB.Driver,
		LLMProvider: cfg.LLM.Provider,
		BlobStore:   blobKind,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	// Storage
	target := cfg.DB.Path
	if cfg.DB.Driver == "postgres" {
		target = sysutil.RedactDSN(cfg.DB.URL)
	}
	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		URL:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
	})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	log.Info().Str("driver", cfg.DB.Driver).Str("target", target).Msg("database ready")

	if n, err := services.NewQuestionService(db, cfg.TemplateOwnerID).EnsureTemplate(ctx); err != nil {
		log.Warn().Err(err).Msg("seed template questions")
	} else if n > 0 {
		log.Info().Int64("questions", n).Str("owner", cfg.TemplateOwnerID).Msg("template catalog seeded")
	}

	// Credential vault. Without a master key the service still runs; key
	// endpoints answer with configuration_error.
	cipher, err := vault.New(cfg.KeySecret)
	if err != nil {
		log.Warn().Err(err).Msg("credential vault disabled")
	}

	// AI provider
	factory, err := llm.NewFactory(llm.Config{
		Kind:        cfg.LLM.Provider,
		APIKey:      cfg.LLM.OpenAIKey,
		BaseURL:     llmBaseURL(cfg.LLM),
		Model:       llmModel(cfg.LLM),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,

		ValidatorBaseURL: cfg.LLM.OpenAIBaseURL,
	}, nil)
	if err != nil {
		return err
	}

	// Uploads
	var store blob.Store
	mediaDir := ""
	if cfg.Media.UseS3() {
		store, err = blob.NewS3Store(ctx, blob.S3Config{
			Bucket:        cfg.Media.S3Bucket,
			Region:        cfg.Media.S3Region,
			Endpoint:      cfg.Media.S3Endpoint,
			AccessKey:     cfg.Media.S3AccessKey,
			SecretKey:     cfg.Media.S3SecretKey,
			PublicBaseURL: cfg.Media.S3PublicURL,
		})
	} else {
		store, err = blob.NewLocalStore(cfg.Media.Dir, cfg.Media.BaseURL)
		mediaDir = cfg.Media.Dir
	}
	if err != nil {
		return err
	}

	// Session lifecycle events
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		publisher = events.NewAMQPPublisher(cfg.AMQPURL)
	}

	// Shared rate limits
	var rateStore redis.Scripter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; limiter fails open until it recovers")
		}
		cancel()
		rateStore = rdb
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Cipher:    cipher,
		LLM:       factory,
		Blob:      store,
		Events:    publisher,
		RateStore: rateStore,
		MediaDir:  mediaDir,
	}, cfg)

	go purgeIdempotency(ctx, db)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("api_base", cfg.APIBasePath).
			Str("llm", factory.Kind()).
			Str("blob", blobKind).
			Bool("vault", cipher.Configured()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func llmBaseURL(c config.LLMConfig) string {
	if c.Provider == llm.KindOllama {
		return c.OllamaHost
	}
	return c.OpenAIBaseURL
}

func llmModel(c config.LLMConfig) string {
	if c.Provider == llm.KindOllama {
		return c.OllamaModel
	}
	return c.OpenAIModel
}

// purgeIdempotency drops expired Idempotency-Key records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}
