package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/api"
	"github.com/agrilogistic/courier/internal/circuitbreaker"
	"github.com/agrilogistic/courier/internal/config"
	"github.com/agrilogistic/courier/internal/db"
	"github.com/agrilogistic/courier/internal/intake"
	"github.com/agrilogistic/courier/internal/metrics"
	"github.com/agrilogistic/courier/internal/observ"
	"github.com/agrilogistic/courier/internal/provider"
	"github.com/agrilogistic/courier/internal/queue"
	"github.com/agrilogistic/courier/internal/redis"
	"github.com/agrilogistic/courier/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting courier dispatch engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ledger := db.NewLedger(database, logger)

	// Redis backs the durable job queue; without it nothing can be
	// enqueued, so unlike the ancillary services this is fatal.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	jobQueue := queue.New(redisClient.RDB(), queue.Config{}, logger)

	idempotencyService := redis.NewIdempotencyService(redisClient, logger)
	contactLimiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  cfg.ContactRateLimit,
		Window: 1 * time.Minute,
	})

	adapters, protected, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	router := provider.NewRouter(logger, adapters...)

	intakeService := intake.New(jobQueue, ledger, cfg.ContactRecipient, logger)

	pool := worker.New(jobQueue, ledger, router, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		IdleWait:    cfg.WorkerIdleWait,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() { _ = pool.Run(workerCtx) }()
	go reportQueueDepth(workerCtx, jobQueue)

	logger.Info("worker pool started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			logger.Info("request completed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	})

	handler := api.NewHandlerWithIdempotency(logger, intakeService, ledger, idempotencyService)

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/send", handler.SendNotification)
		r.Post("/bulk", handler.SendBulk)
		r.Get("/user/{userId}", handler.ListUserNotifications)
		r.Get("/{id}", handler.GetNotification)
	})

	r.With(api.RateLimitMiddleware(contactLimiter, logger, api.IPKeyFunc)).
		Post("/contact", handler.SubmitContact)

	healthHandler := api.NewHealthHandler(logger, protected)
	r.Get("/health", healthHandler.Liveness)
	r.Get("/health/providers", healthHandler.Providers)

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop claiming new jobs; in-flight sends run to completion.
		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildAdapters wires one adapter per configured channel, each behind
// its own circuit breaker. The protected wrappers are also returned as
// a separate slice so the health endpoint can report breaker state. In
// development, unconfigured channels fall back to the log adapter so
// the whole pipeline stays exercisable.
func buildAdapters(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]provider.Adapter, []*circuitbreaker.ProtectedAdapter, error) {
	var (
		adapters  []provider.Adapter
		protected []*circuitbreaker.ProtectedAdapter
	)

	wrap := func(a provider.Adapter, name string) {
		pa := circuitbreaker.NewProtectedAdapter(
			a, circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger), logger)
		adapters = append(adapters, pa)
		protected = append(protected, pa)
	}

	sesAdapter, err := provider.NewSESAdapter(ctx, provider.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SES email adapter: %w", err)
	}
	wrap(sesAdapter, "ses")

	snsAdapter, err := provider.NewSNSAdapter(ctx, provider.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS adapter unavailable, SMS notifications disabled", zap.Error(err))
	} else {
		wrap(snsAdapter, "sns")
	}

	if cfg.PushGatewayURL != "" {
		pushAdapter := provider.NewPushAdapter(provider.PushConfig{
			GatewayURL: cfg.PushGatewayURL,
			Timeout:    cfg.PushTimeout,
		}, logger)
		wrap(pushAdapter, "push")
	}

	if cfg.Env == "development" {
		adapters = append(adapters, provider.NewLogAdapter(logger))
	}

	logger.Info("initialized provider adapters",
		zap.Int("count", len(adapters)),
		zap.Bool("push_enabled", cfg.PushGatewayURL != ""),
	)

	return adapters, protected, nil
}

// reportQueueDepth keeps the queue depth gauges fresh.
func reportQueueDepth(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, delayed, processing, err := q.Depth(ctx)
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("pending", pending)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("processing", processing)
		}
	}
}
