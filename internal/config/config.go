// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, catalog
// access, provisioning behavior, cleanup scheduling, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emirhandeniz58/frame-customizer-v2/internal/sysutil"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "frame-customizer")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CatalogConfig defines outbound catalog API settings.
type CatalogConfig struct {
	APIVersion string        // CATALOG_API_VERSION
	Timeout    time.Duration // CATALOG_TIMEOUT per-call deadline
	RPS        float64       // CATALOG_RPS outbound tokens per second
	Burst      int           // CATALOG_BURST outbound bucket size
}

// ProvisionConfig defines variant provisioning behavior.
type ProvisionConfig struct {
	VariantTTL         time.Duration // VARIANT_TTL lifetime before cleanup
	PricePollAttempts  int           // PRICE_POLL_ATTEMPTS
	PricePollBaseDelay time.Duration // PRICE_POLL_BASE_DELAY
	DedupWindow        time.Duration // DEDUP_WINDOW duplicate rejection window
	DedupTTL           time.Duration // DEDUP_TTL entry lifetime
	DedupMaxEntries    int           // DEDUP_MAX_ENTRIES map cap
}

// CleanupConfig defines the background worker's scheduling and limits.
type CleanupConfig struct {
	SweepInterval      time.Duration // SWEEP_INTERVAL
	DailyScanHour      int           // DAILY_SCAN_HOUR local hour 0-23
	MaxRecordAge       time.Duration // MAX_RECORD_AGE daily scan cutoff
	MaxCleanupAttempts int           // MAX_CLEANUP_ATTEMPTS 0 retries forever
	AlarmWindow        time.Duration // ALARM_WINDOW
	AlarmThreshold     int           // ALARM_THRESHOLD
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting (inbound)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Domain behavior
	Catalog   CatalogConfig
	Provision ProvisionConfig
	Cleanup   CleanupConfig

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

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

		// Catalog access
		Catalog: CatalogConfig{
			APIVersion: getenv("CATALOG_API_VERSION", "2024-01"),
			Timeout:    getdur("CATALOG_TIMEOUT", 10*time.Second),
			RPS:        getfloat("CATALOG_RPS", 2.0),
			Burst:      getint("CATALOG_BURST", 4),
		},

		// Provisioning
		Provision: ProvisionConfig{
			VariantTTL:         getdur("VARIANT_TTL", 2*time.Hour),
			PricePollAttempts:  getint("PRICE_POLL_ATTEMPTS", 8),
			PricePollBaseDelay: getdur("PRICE_POLL_BASE_DELAY", 600*time.Millisecond),
			DedupWindow:        getdur("DEDUP_WINDOW", 3*time.Second),
			DedupTTL:           getdur("DEDUP_TTL", 5*time.Second),
			DedupMaxEntries:    getint("DEDUP_MAX_ENTRIES", 1000),
		},

		// Cleanup worker
		Cleanup: CleanupConfig{
			SweepInterval:      getdur("SWEEP_INTERVAL", 2*time.Hour),
			DailyScanHour:      getint("DAILY_SCAN_HOUR", 3),
			MaxRecordAge:       getdur("MAX_RECORD_AGE", 24*time.Hour),
			MaxCleanupAttempts: getint("MAX_CLEANUP_ATTEMPTS", 25),
			AlarmWindow:        getdur("ALARM_WINDOW", 5*time.Minute),
			AlarmThreshold:     getint("ALARM_THRESHOLD", 3),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "frame-customizer"),
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

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Catalog.Timeout <= 0 {
		return cfg, errors.New("CATALOG_TIMEOUT must be > 0")
	}
	if cfg.Catalog.RPS <= 0 {
		return cfg, errors.New("CATALOG_RPS must be > 0")
	}
	if cfg.Catalog.Burst < 1 {
		return cfg, errors.New("CATALOG_BURST must be >= 1")
	}
	if cfg.Provision.VariantTTL <= 0 {
		return cfg, errors.New("VARIANT_TTL must be > 0")
	}
	if cfg.Provision.PricePollAttempts < 1 {
		return cfg, errors.New("PRICE_POLL_ATTEMPTS must be >= 1")
	}
	if cfg.Provision.PricePollBaseDelay <= 0 {
		return cfg, errors.New("PRICE_POLL_BASE_DELAY must be > 0")
	}
	if cfg.Provision.DedupWindow <= 0 || cfg.Provision.DedupTTL < cfg.Provision.DedupWindow {
		return cfg, errors.New("DEDUP_TTL must be >= DEDUP_WINDOW and both > 0")
	}
	if cfg.Provision.DedupMaxEntries < 1 {
		return cfg, errors.New("DEDUP_MAX_ENTRIES must be >= 1")
	}
	if cfg.Cleanup.SweepInterval <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL must be > 0")
	}
	if cfg.Cleanup.DailyScanHour < 0 || cfg.Cleanup.DailyScanHour > 23 {
		return cfg, errors.New("DAILY_SCAN_HOUR must be in [0,23]")
	}
	if cfg.Cleanup.MaxRecordAge <= 0 {
		return cfg, errors.New("MAX_RECORD_AGE must be > 0")
	}
	if cfg.Cleanup.MaxCleanupAttempts < 0 {
		return cfg, errors.New("MAX_CLEANUP_ATTEMPTS must be >= 0")
	}
	if cfg.Cleanup.AlarmWindow <= 0 || cfg.Cleanup.AlarmThreshold < 1 {
		return cfg, errors.New("ALARM_WINDOW must be > 0 and ALARM_THRESHOLD >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	return sysutil.FirstNonEmpty(os.Getenv(k), def)
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
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
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
