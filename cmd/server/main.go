package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yohan4477/meire-blog-platform-sub004/internal/feed"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/hub"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/config"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/logging"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/retry"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/platform/version"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/redis"
	"github.com/yohan4477/meire-blog-platform-sub004/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	// Redis may come up after us in orchestrated deployments, so the first
	// ping retries with backoff before giving up.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	classify := func(error) retry.Action { return retry.Retry }

	if err := retry.DoVoid(ctx, policy, classify, func() error { return client.Ping(ctx) }); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, h *hub.Hub, cancelBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop the data feed and ingest first so nothing publishes into a
		// draining hub, then drain the hub, then close the HTTP listener.
		cancelBackground()
		h.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)
	version.PublishMetric()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	h := hub.New(hub.Options{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		StalenessThreshold: cfg.StalenessThreshold,
		DrainTimeout:       cfg.DrainTimeout,
		Clock:              clock,
	})

	quoteStore := redis.NewQuoteStore(redisClient)
	dataFeed := feed.New(h, feed.Options{
		Source:       quoteStore,
		PollInterval: cfg.QuotePollInterval,
		Clock:        clock,
	})
	ingest := redis.NewProducerIngest(redisClient, dataFeed)

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go dataFeed.Run(backgroundCtx)
	go ingest.Run(backgroundCtx)

	srv := server.NewServer(cfg, h, redisClient)
	done := runGracefulShutdown(srv, h, cancelBackground)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
