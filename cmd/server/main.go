// Command server runs the variant provisioning API and its cleanup worker.
//
// Startup order:
//  1. Load .env (best effort) and the environment configuration
//  2. Configure global zerolog output and level
//  3. Open SQLite and migrate the schema
//  4. Initialize OpenTelemetry tracing (when enabled)
//  5. Start the background cleanup reconciler
//  6. Serve HTTP until SIGINT/SIGTERM, then drain gracefully
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
	"github.com/rs/zerolog/log"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/cleanup"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/config"
	httpapi "github.com/emirhandeniz58/frame-customizer-v2/internal/http"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/observability"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/repo"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/services"
	"github.com/emirhandeniz58/frame-customizer-v2/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 15 * time.Second

func main() {
	// Local development convenience; the file is absent in production.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	// Cleanup worker: periodic expiry sweeps plus the daily full scan.
	tracker := cleanup.NewAlarmTracker(db)
	tracker.Window = cfg.Cleanup.AlarmWindow
	tracker.Threshold = cfg.Cleanup.AlarmThreshold

	rec := cleanup.NewReconciler(db, &services.DBSessionStore{DB: db}, httpapi.ClientFactory(cfg.Catalog), tracker)
	rec.SweepInterval = cfg.Cleanup.SweepInterval
	rec.DailyScanHour = cfg.Cleanup.DailyScanHour
	rec.MaxRecordAge = cfg.Cleanup.MaxRecordAge
	rec.MaxCleanupAttempts = cfg.Cleanup.MaxCleanupAttempts
	rec.Start(ctx)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg)

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
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	// Drain: stop accepting, finish in-flight work, flush traces.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	rec.Stop()
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}

	log.Info().Msg("server stopped")
}

// setupLogging configures the global zerolog output format and level.
func setupLogging(cfg config.Config) {
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)
}
