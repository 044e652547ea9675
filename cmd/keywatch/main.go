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

	"github.com/adorofeev/keywatch/internal/api"
	"github.com/adorofeev/keywatch/internal/circuitbreaker"
	"github.com/adorofeev/keywatch/internal/config"
	"github.com/adorofeev/keywatch/internal/db"
	"github.com/adorofeev/keywatch/internal/dispatch"
	"github.com/adorofeev/keywatch/internal/embed"
	"github.com/adorofeev/keywatch/internal/ingest"
	"github.com/adorofeev/keywatch/internal/match"
	"github.com/adorofeev/keywatch/internal/metrics"
	"github.com/adorofeev/keywatch/internal/observ"
	"github.com/adorofeev/keywatch/internal/redis"
	"github.com/adorofeev/keywatch/internal/verify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting keywatch",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
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

	subsRepo := db.NewSubscriptionRepository(database, logger)
	analysisStore := db.NewAnalysisStore(database, logger)

	// Redis is optional: without it the embedding cache and rate limiting
	// degrade to direct calls.
	redisClient, err := redis.New(ctx, redis.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching and rate limiting disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Embedding service client, cached through redis when available.
	var embedder match.Embedder = embed.NewClient(embed.Config{
		Endpoint: cfg.EmbedEndpoint,
		Timeout:  cfg.EmbedTimeout,
	}, logger)
	if redisClient != nil {
		embedder = redis.NewCachedEmbedder(redisClient, embedder, logger)
	}

	// Verification classifier behind a circuit breaker and a shared-service
	// rate limit.
	classifierClient, err := verify.NewClient(verify.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create verification client: %w", err)
	}

	verifyBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("openai"), logger)
	classifier := circuitbreaker.NewProtectedClassifier(classifierClient, verifyBreaker, logger)

	var callLimiter verify.CallLimiter
	if redisClient != nil {
		// Verification calls per minute across the process.
		rateLimiter := redis.NewRateLimiter(redisClient, logger, 300, time.Minute)
		callLimiter = redis.NewServiceLimiter(rateLimiter, "openai")
	}

	gate := verify.NewGate(classifier, callLimiter, verify.DefaultGateConfig(), logger)

	// Delivery sinks. The structured log sink always runs; Telegram and SNS
	// join when configured.
	sinks := []dispatch.Sink{dispatch.NewLogSink(logger)}

	if cfg.TelegramBotToken != "" {
		tgSink, err := dispatch.NewTelegramSink(cfg.TelegramBotToken, logger)
		if err != nil {
			logger.Warn("telegram sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, tgSink)
		}
	}

	if cfg.SNSTopicARN != "" {
		snsSink, err := dispatch.NewSNSSink(ctx, cfg.SNSTopicARN)
		if err != nil {
			logger.Warn("sns sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, snsSink)
		}
	}

	sink := dispatch.NewMultiSink(logger, sinks...)

	scheduler := dispatch.NewScheduler(analysisStore, subsRepo, sink, dispatch.SchedulerConfig{
		PriorityDelay: cfg.PriorityDelay,
		FlushInterval: cfg.FlushInterval,
	}, logger)

	orchestrator := match.NewOrchestrator(
		subsRepo,
		analysisStore,
		match.NewLexicalScorer(),
		match.NewSemanticScorer(embedder, logger),
		gate,
		scheduler,
		match.OrchestratorConfig{
			LexicalThreshold:      cfg.LexicalThreshold,
			SemanticThreshold:     cfg.SemanticThreshold,
			VerificationThreshold: cfg.VerificationThreshold,
			Workers:               cfg.EvalWorkers,
		},
		logger,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go scheduler.Start(workerCtx)

	// Subscription embedding backfill keeps the create path fast: vectors
	// are computed asynchronously after creation.
	backfill := embed.NewBackfill(subsRepo, embedder, embed.BackfillConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}, logger)
	go backfill.Start(workerCtx)

	// Incoming message stream.
	if cfg.SQSQueueURL != "" {
		consumer, err := ingest.NewConsumer(ctx, ingest.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, orchestrator, logger)
		if err != nil {
			return fmt.Errorf("failed to create message consumer: %w", err)
		}
		go consumer.Run(workerCtx)
	} else {
		logger.Warn("SQS_QUEUE_URL not set, message ingestion disabled")
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	var apiLimiter *redis.RateLimiter
	if redisClient != nil {
		// Requests per minute per user.
		apiLimiter = redis.NewRateLimiter(redisClient, logger, 100, time.Minute)
	}

	handler := api.NewHandler(logger, subsRepo, analysisStore, scheduler, classifier)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(apiLimiter, logger, api.UserKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Stop workers, then flush what the scheduler can still deliver.
		workerCancel()
		scheduler.Stop(shutdownCtx)

		logger.Info("server stopped gracefully")
	}

	return nil
}
