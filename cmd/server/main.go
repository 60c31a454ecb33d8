// Command server runs the live chat API.
//
// It loads configuration from the environment (and .env when present),
// opens the SQLite store, wires identity, ledger, limiter, hub and the
// services, then serves HTTP until SIGINT/SIGTERM. Shutdown closes every
// live stream first so the HTTP server can drain.
//
// @title                      Live Chat API
// @version                    1.0
// @description                Single-room real-time chat: accounts, history, live event streams and moderation.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @securityDefinitions.apikey AdminToken
// @in                         header
// @name                       X-Admin-Token
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/auth"
	"github.com/tbourn/go-live-chat/internal/broadcast"
	"github.com/tbourn/go-live-chat/internal/config"
	httpapi "github.com/tbourn/go-live-chat/internal/http"
	"github.com/tbourn/go-live-chat/internal/observability"
	"github.com/tbourn/go-live-chat/internal/ratelimit"
	"github.com/tbourn/go-live-chat/internal/repo"
	"github.com/tbourn/go-live-chat/internal/services"
	"github.com/tbourn/go-live-chat/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout   = 15 * time.Second
	idempotencySweep  = 10 * time.Minute
	otelShutdownLimit = 5 * time.Second
)

func main() {
	// local dev convenience; production relies on real env
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := sysutil.ConfigureLogger(sysutil.FirstNonEmpty(cfg.LogLevel, "info"), cfg.LogPretty, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), otelShutdownLimit)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath, repo.Options{Tracing: cfg.OTEL.Enabled, Silent: cfg.GinMode == gin.ReleaseMode})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	identity := services.NewIdentityService(db,
		auth.NewHasher(cfg.Auth.BcryptCost),
		auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))
	ledger := services.NewLedger(db, cfg.Chat.HistoryLimit)
	limiter := ratelimit.New(cfg.Chat.PostRateMax, cfg.Chat.PostRateWindow, cfg.Chat.PostCooldown)
	hub := broadcast.NewHub(broadcast.Options{
		Buffer:    cfg.Chat.SubscriberBuffer,
		Heartbeat: cfg.Chat.HeartbeatInterval,
		Logger:    log,
	})

	chat := services.NewChatService(identity, ledger, limiter, hub, log)
	chat.IdempotencyTTL = cfg.IdempotencyTTL
	mod := services.NewModerationService(ledger, identity, hub, limiter, log)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Chat: chat, Moderation: mod}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	// streams outlive any request-scoped context
	srv.RegisterOnShutdown(hub.Close)

	go sweepIdempotency(ctx, db, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	hub.Close()
	log.Info().Msg("bye")
}

// sweepIdempotency drops expired post idempotency records until ctx ends.
func sweepIdempotency(ctx context.Context, db *gorm.DB, log zerolog.Logger) {
	t := time.NewTicker(idempotencySweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency sweep")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("idempotency sweep")
			}
		}
	}
}
