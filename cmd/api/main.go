// Package main is the entrypoint for the Keymeter API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/keymeter/keymeter/internal/cache"
	"github.com/keymeter/keymeter/internal/config"
	"github.com/keymeter/keymeter/internal/handler"
	"github.com/keymeter/keymeter/internal/metrics"
	"github.com/keymeter/keymeter/internal/middleware"
	"github.com/keymeter/keymeter/internal/repository"
	"github.com/keymeter/keymeter/internal/server"
	"github.com/keymeter/keymeter/internal/service"
	"github.com/keymeter/keymeter/internal/usage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to open database",
			slog.String("driver", cfg.DatabaseDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	recorder := metrics.NewInMemory()

	// Redis is optional. Interface values stay nil when it is disabled so
	// the service and handlers see "no cache" rather than a nil pointer.
	var (
		cacheClient *cache.Cache
		keyCache    service.SystemKeyCache
		publisher   *usage.Publisher
		worker      *usage.Worker
		events      service.UsagePublisher
		throttler   middleware.Throttler
		cacheHealth handler.HealthChecker
	)
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			_ = store.Close()
			os.Exit(1)
		}
		logger.Info("connected to Redis")

		keyCache = cacheClient
		throttler = cacheClient
		cacheHealth = cacheClient

		if cfg.UsageEventsEnabled {
			publisher = usage.NewPublisher(cacheClient.Client(), logger, recorder)
			events = publisher
		}
		if cfg.UsageRollupEnabled {
			worker = usage.NewWorker(cacheClient.Client(), logger, usage.NewConsumerID(), recorder)
		}
	} else {
		logger.Warn("REDIS_URL not set; system key cache, token throttle and usage events are disabled")
	}

	quotaService := service.NewQuotaService(store, keyCache, events, recorder, logger)
	if worker != nil {
		quotaService.SetUsageReader(usage.NewRollupReader(cacheClient.Client()))
	}

	systemKey, created, err := quotaService.EnsureSystemKey(ctx)
	if err != nil {
		logger.Error("failed to provision system key", "error", err)
		os.Exit(1)
	}
	if created {
		logger.Info("generated system key", "system_key", systemKey)
	} else {
		logger.Info("using existing system key", "system_key", systemKey)
	}

	h := handler.New(quotaService, logger)
	healthHandler := handler.NewHealthHandler(store, cacheHealth)
	metricsHandler := handler.NewMetricsHandler(recorder)

	throttleCfg := middleware.TokenThrottleConfig{
		Logger:    logger,
		Throttler: throttler,
		Metrics:   recorder,
		Enabled:   cfg.RateLimitTokenEnabled,
		RPS:       cfg.RateLimitTokenRPS,
		Burst:     cfg.RateLimitTokenBurst,

		TrustProxy: cfg.TrustProxyHeaders,
	}

	r := setupRouter(h, healthHandler, metricsHandler, throttleCfg, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, closed last.
	srv.OnShutdown("database", func(ctx context.Context) error {
		return store.Close()
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(ctx context.Context) error {
			return cacheClient.Close()
		})
	}
	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("usage worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("usage-worker", worker.Shutdown)
	}
	if publisher != nil {
		srv.OnShutdown("usage-events", publisher.Drain)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"static_dir", cfg.StaticDir,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	metricsHandler *handler.MetricsHandler,
	throttleCfg middleware.TokenThrottleConfig,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(cfg.GetCORSAllowedOrigins()))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	// Set before mounting so /api inherits them.
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	h.RegisterRoutes(r, middleware.TokenThrottle(throttleCfg))

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL drops the password from a connection URL. SQLite paths pass
// through unchanged.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
