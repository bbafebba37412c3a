package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/fintrack/internal/api"
	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/config"
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/extraction"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/internal/session"
	"github.com/example/fintrack/internal/store/postgres"
	"github.com/example/fintrack/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	var rateLimiter *security.RedisTokenBucket
	var sessions completion.SessionStore = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		sessions = session.NewRedisStore(redisClient, "fintrack")
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "fintrack_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: float64(cfg.RateLimitRefillRate),
		}
	}

	var extractor completion.Extractor
	if cfg.AnthropicAPIKey != "" {
		extractor = extraction.NewAnthropicExtractor(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, using rule-based extractor")
		extractor = extraction.NewRuleExtractor()
	}

	resolver := container.NewResolver(store.Containers())
	mutations := mutation.NewService(mutation.DefaultRegistry(), store.Containers(), store.Adjustments(), store)
	handler := completion.NewHandler(
		fact.NewEvaluator(resolver),
		resolver,
		mutations,
		store.Containers(),
		store.Transactions(),
		store.Adjustments(),
		sessions,
	)

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Conversation: completion.NewConversation(handler, extractor),
		Handler:      handler,
		Containers:   store.Containers(),
		Audits:       store.Adjustments(),
		Auditor:      audit.NewChainLogger(),
		RateLimiter:  rateLimiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("fintrack api listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
