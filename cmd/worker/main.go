// Package main provides the worker application entry point.
// The worker consumes VerificationRequest tasks from the queue and drives
// the Orchestrator's classify/verify/write-back pipeline (spec §4, §9).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/emagero/second-check/internal/adapter/erp"
	"github.com/emagero/second-check/internal/adapter/llm"
	"github.com/emagero/second-check/internal/adapter/observability"
	"github.com/emagero/second-check/internal/adapter/queue"
	"github.com/emagero/second-check/internal/adapter/render"
	"github.com/emagero/second-check/internal/adapter/repo/postgres"
	"github.com/emagero/second-check/internal/adapter/writeback"
	"github.com/emagero/second-check/internal/config"
	"github.com/emagero/second-check/internal/domain"
	"github.com/emagero/second-check/internal/service/ratelimiter"
	"github.com/emagero/second-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint so Prometheus can scrape classify/verify and
	// write-back instrumentation.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	verificationRepo := postgres.NewVerificationRepo(pool)
	documentRepo := postgres.NewDocumentRepo(pool)
	activityRepo := postgres.NewActivityLogRepo(pool)

	// The rate limiter bounds outstanding LLM calls so a burst of queued
	// verification requests can't exhaust the model provider's quota; absent
	// a Redis URL the LLM client runs unbounded.
	var limiter ratelimiter.Limiter
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		redisLimiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
			"llm": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin),
		})
		redisLimiter.WarmFromPostgres(ctx)
		limiter = redisLimiter
	}

	erpClient := erp.New(cfg)
	llmClient := llm.New(cfg, limiter)
	renderClient := render.New(cfg)
	writeBackAdapter := writeback.New(cfg)

	classifier := &usecase.DocumentClassifier{
		Renderer:  renderClient,
		LLM:       llmClient,
		Documents: documentRepo,
	}

	orchestrator := usecase.NewOrchestrator(
		verificationRepo, jobRepo, documentRepo, activityRepo,
		erpClient, writeBackAdapter, classifier,
		cfg.DocConcurrency, cfg.WriteBackActorName,
	)

	// Producer used to dead-letter messages the Consumer can't process, kept
	// distinct from the HTTP server's producer so each process owns its own
	// client lifecycle.
	queueProducer, err := queue.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueProducer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	intake := usecase.NewIntakeService(verificationRepo, queueProducer, cfg.QueueTopic)

	retryCfg := domain.RetryConfig{
		MaxRetries:   cfg.RetryMaxRetries,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   cfg.RetryMultiplier,
		Jitter:       cfg.RetryJitter,
	}

	consumer, err := queue.NewConsumer(cfg.KafkaBrokers, cfg.QueueConsumerGroup, cfg.QueueTopic, orchestrator, intake, queueProducer, retryCfg)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close queue consumer", slog.Any("error", err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		slog.Info("starting queue consumer", slog.String("topic", cfg.QueueTopic), slog.String("group", cfg.QueueConsumerGroup))
		if err := consumer.Run(runCtx); err != nil {
			slog.Error("consumer stopped with error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
