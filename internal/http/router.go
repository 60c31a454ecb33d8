// Package httpapi wires the HTTP transport (Gin) to the chat and moderation
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, CORS, security headers, idempotency, and edge rate
// limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/docs"
	"github.com/tbourn/go-live-chat/internal/config"
	"github.com/tbourn/go-live-chat/internal/http/handlers"
	"github.com/tbourn/go-live-chat/internal/http/middleware"
	"github.com/tbourn/go-live-chat/internal/repo"
	"github.com/tbourn/go-live-chat/internal/services"
)

// maxBodyBytes caps every request body. Chat payloads are tiny.
const maxBodyBytes = 64 << 10

// Deps are the collaborators the routes need.
type Deps struct {
	DB         *gorm.DB
	Chat       *services.ChatService
	Moderation *services.ModerationService
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. gzip (streams and /metrics excluded)
//
// Per group: RequireUser, then the idempotency validator (a replay bypasses
// the limiter), then the edge rate limiter.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`.*/stream$`}),
	))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(deps.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Chat, deps.Moderation, handlers.Options{
		StreamRetry:  cfg.Chat.StreamRetry,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})
	edge := middleware.NewEdgeLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Anonymous
	open := api.Group("", edge.Handler())
	{
		open.POST("/auth/register", h.Register)
		open.POST("/auth/login", h.Login)
		open.GET("/public/messages", h.ListPublicMessages)
		open.GET("/public/stream", h.PublicStream)
	}

	// Participants
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(deps.DB))
	user := api.Group("", middleware.RequireUser(deps.Chat, middleware.AuthOptions{}), idem, edge.Handler())
	{
		user.GET("/messages", h.ListMessages)
		user.POST("/messages", h.PostMessage)
	}
	// EventSource cannot set headers, so the stream also takes ?token=.
	api.GET("/stream",
		middleware.RequireUser(deps.Chat, middleware.AuthOptions{AllowQueryToken: true}),
		edge.Handler(),
		h.Stream,
	)

	// Moderators
	admin := api.Group("/admin", middleware.RequireAdmin(cfg.Auth.AdminToken), edge.Handler())
	{
		admin.POST("/wipe", h.Wipe)
		admin.DELETE("/messages/:id", h.DeleteMessage)
		admin.POST("/messages/:id/warn", h.WarnMessage)
		admin.GET("/users", h.ListUsers)
		admin.POST("/users/:nickname/ban", h.Ban)
		admin.POST("/users/:nickname/unban", h.Unban)
		admin.DELETE("/users/:nickname", h.DeleteAccount)
	}
}

// idempotencyLookup reports whether (nickname, key) already produced a post.
// Lookup failures are treated as misses; the service re-checks on write.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, nickname, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, nickname, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// health pings the store; a dead database is reported as 503.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeStorage, "storage unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID", "If-None-Match",
			"X-Admin-Token", middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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
