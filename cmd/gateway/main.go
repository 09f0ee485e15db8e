package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/smartwaste/ai-gateway/config"
	"github.com/smartwaste/ai-gateway/internal/admin"
	"github.com/smartwaste/ai-gateway/internal/auth"
	"github.com/smartwaste/ai-gateway/internal/eventlog"
	"github.com/smartwaste/ai-gateway/internal/gateway"
	"github.com/smartwaste/ai-gateway/internal/health"
	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/provider/claude"
	"github.com/smartwaste/ai-gateway/internal/provider/gemini"
	"github.com/smartwaste/ai-gateway/internal/provider/openai"
	"github.com/smartwaste/ai-gateway/internal/registry"
	"github.com/smartwaste/ai-gateway/internal/seeder"
	"github.com/smartwaste/ai-gateway/internal/telemetry"
	"github.com/smartwaste/ai-gateway/internal/usage"
	"github.com/smartwaste/ai-gateway/migrations"
	"github.com/smartwaste/ai-gateway/pkg/ratewindow"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ai-gateway").Logger()
	zlog.Logger = logger

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-gateway", cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}

	// 4. Connect PostgreSQL and apply migrations
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping postgres")
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	logger.Info().Msg("PostgreSQL connected")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping redis")
	}
	logger.Info().Msg("Redis connected")

	// 6. Init stores
	registryStore := registry.NewPostgresStore(pool)
	usageStore := usage.NewPostgresStore(pool)
	eventStore := eventlog.NewPostgresStore(pool)
	statsStore := opstats.NewPostgresStore(pool)
	authStore := auth.NewPostgresStore(pool)

	// 7. Seed the starter provider set (no-op when the registry has rows)
	if err := registry.SeedDefaults(ctx, registryStore); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed default providers")
	}
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAdminKey(ctx, authStore, logger)
	}

	// 8. Init adapters, one per backend wire protocol
	adapters := map[string]provider.Adapter{
		registry.KindGemini:    gemini.New(),
		registry.KindOpenAI:    openai.New(),
		registry.KindAnthropic: claude.New(),
	}

	// 9. Init the advisory rate window tracker
	window := ratewindow.New(rdb, cfg.WindowTokensPerMinute)

	// 10. Init the dispatcher
	tracer := otel.GetTracerProvider().Tracer("ai-gateway")
	gw := gateway.New(gateway.Config{
		Registry: registryStore,
		Usage:    usageStore,
		Events:   eventStore,
		Stats:    statsStore,
		Adapters: adapters,
		Window:   window,
		Tracer:   tracer,
		Logger:   logger.With().Str("component", "gateway").Logger(),
		CacheTTL: cfg.ProviderCacheTTL,
	})
	gatewayHandler := gateway.NewHandler(gw)

	// 11. Init the health checker and admin surface
	checker := health.NewChecker(registryStore, adapters, logger.With().Str("component", "health").Logger())
	adminHandler := admin.NewHandler(admin.Config{
		Registry: registryStore,
		Usage:    usageStore,
		Events:   eventStore,
		Stats:    statsStore,
		Checker:  checker,
		Window:   window,
		Gateway:  gw,
		Logger:   logger.With().Str("component", "admin").Logger(),
	})

	// 12. Init auth middleware
	authMiddleware := auth.NewMiddleware(authStore, rdb, logger.With().Str("component", "auth").Logger())

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-gateway"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/generate", gatewayHandler.HandleGenerate)
		r.Mount("/admin", adminHandler.Routes())
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("AI provider gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}

	// Drain pending telemetry and flush spans before exit.
	gw.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
