// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/catalog"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/config"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/http/handlers"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/http/middleware"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/services"
)

// ClientFactory builds per-shop catalog clients from the configured API
// version, timeout, and outbound rate limits. Every session resolves to its
// own shop credentials, so clients are constructed per request.
func ClientFactory(cfg config.CatalogConfig) services.ClientFactory {
	return func(shopDomain, accessToken string) services.CatalogClient {
		c := catalog.NewClient(shopDomain, accessToken)
		if cfg.APIVersion != "" {
			c.APIVersion = cfg.APIVersion
		}
		if cfg.Timeout > 0 {
			c.Timeout = cfg.Timeout
		}
		if cfg.RPS > 0 {
			c.Limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		}
		return c
	}
}

// NewProvisioner builds the production ProvisionService from configuration.
// Shared with cmd/server so the HTTP layer and the cleanup worker agree on
// the catalog client construction.
func NewProvisioner(db *gorm.DB, cfg config.Config) *services.ProvisionService {
	svc := services.NewProvisionService(db, &services.DBSessionStore{DB: db}, ClientFactory(cfg.Catalog))
	svc.VariantTTL = cfg.Provision.VariantTTL
	svc.PricePollAttempts = cfg.Provision.PricePollAttempts
	svc.PricePollBaseDelay = cfg.Provision.PricePollBaseDelay
	svc.Dedup.Window = cfg.Provision.DedupWindow
	svc.Dedup.TTL = cfg.Provision.DedupTTL
	svc.Dedup.MaxEntries = cfg.Provision.DedupMaxEntries
	return svc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. SessionID: lift the session header into the context
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per session/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Canonical session identity for logging, limits, and handlers
	r.Use(middleware.SessionID())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, sessionID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, sessionID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per session/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept",
		"X-Session-ID", middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/catalog
	provSvc := NewProvisioner(db, cfg)
	h := handlers.New(provSvc, db)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Variants
		api.POST("/variants", h.ProvisionVariant)

		// Cleanup worker stats
		api.GET("/cleanup/stats", h.CleanupStats)
	}

	// Webhooks are registered at the root: the platform delivers to a fixed
	// path and authenticates per delivery, not per session.
	r.POST("/webhooks/orders", h.OrderWebhook)
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
