package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"easyswitch/internal/cache"
	"easyswitch/internal/client"
	"easyswitch/internal/config"
	"easyswitch/internal/db"
	"easyswitch/internal/logger"
	"easyswitch/internal/metrics"
	"easyswitch/internal/middleware"
	"easyswitch/internal/payment"
	"easyswitch/internal/payment/providers"
	"easyswitch/internal/payment/webhook"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = serve
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

// run blocks until ctx is done and the server has drained. Storage is
// closed only after that.
func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	router, closeStores, err := newServer(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closeStores()

	logger.L().Info("payment gateway listening",
		zap.String("port", cfg.AppPort),
		zap.String("env", cfg.AppEnv),
	)
	return startServerFunc(ctx, ":"+cfg.AppPort, router)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serveListener(ctx, ln, handler)
}

// serveListener serves until ctx is done, then stops accepting and waits
// for in-flight requests up to shutdownTimeout.
func serveListener(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newServer wires adapters, storage and HTTP handlers. Background work is
// stopped when ctx is done; the returned func closes the stores and must
// run once the server no longer serves requests.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) (http.Handler, func(), error) {
	closeStores := func() {}

	registry := payment.NewRegistry()
	if err := providers.RegisterAll(registry); err != nil {
		return nil, closeStores, err
	}
	repo := payment.NewRepository(database)

	opts := []client.Option{
		client.WithRegistry(registry),
		client.WithRepository(repo),
	}
	if cfg.RedisAddr != "" {
		store := cache.NewRedisStore(cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, closeStores, fmt.Errorf("connect redis: %w", err)
		}
		closeStores = func() {
			if err := store.Close(); err != nil {
				logger.L().Warn("failed to close redis", zap.Error(err))
			}
		}
		opts = append(opts, client.WithIdempotencyStore(store))
	} else {
		logger.L().Warn("REDIS_ADDR not set, duplicate payment submissions are not guarded")
	}

	payments, err := client.New(cfg.EasySwitch, opts...)
	if err != nil {
		closeStores()
		return nil, func() {}, err
	}

	limiter := middleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookBurst)
	go limiter.Run(ctx)

	stats := metrics.NewOutcomes()
	webhooks := webhook.NewWebhookHandler(payments, repo, stats)
	ops := middleware.RequireBearer([]byte(cfg.OpsJWTSecret))(client.NewHandler(payments))

	return setupRouter(
		limiter.Middleware(http.HandlerFunc(webhooks.PaymentWebhookHandler)),
		ops,
		stats.Handler(),
	), closeStores, nil
}

func setupRouter(webhookHandler, opsHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("POST /webhooks/{provider}", webhookHandler)
	mux.Handle("/v1/", opsHandler)

	return logger.RequestIDMiddleware(logger.LoggingMiddleware(mux))
}
