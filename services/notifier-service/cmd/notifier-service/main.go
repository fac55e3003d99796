package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/epop-app/eventbus/jobs"
	"github.com/epop-app/eventbus/libs/config"
	"github.com/epop-app/eventbus/libs/db"
	"github.com/epop-app/eventbus/libs/email"
	"github.com/epop-app/eventbus/libs/httpx"
	"github.com/epop-app/eventbus/libs/kafkax"
	otelx "github.com/epop-app/eventbus/libs/otel"
	"github.com/epop-app/eventbus/libs/redisx"
	"github.com/epop-app/eventbus/libs/runtime"
	"github.com/epop-app/eventbus/services/notifier-service/internal/notifier"
	"github.com/epop-app/eventbus/services/notifier-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notifier-service")
	port, err := config.Port("PORT", "8093")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb, err := redisx.Open(ctx, config.String("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	var push notifier.PushSender
	if webhookURL := config.String("PUSH_WEBHOOK_URL", ""); webhookURL != "" {
		push = notifier.NewWebhookPushSender(webhookURL, config.String("PUSH_WEBHOOK_TOKEN", ""))
	} else {
		logger.Warn("PUSH_WEBHOOK_URL not set, pushes will be dropped")
		push = notifier.NewNoopPushSender()
	}
	mailer := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
		config.String("SMTP_USER", ""),
		config.String("SMTP_PASSWORD", ""),
	)

	jobsRepo := jobs.NewRepository(pool)
	store := storage.NewRepository(pool)
	handlers := notifier.NewHandlers(push, mailer, store, logger)

	worker := jobs.NewWorker(jobsRepo, logger, jobs.WorkerConfig{
		Queue:     jobs.QueueNotifications,
		Interval:  config.Duration("JOB_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.BatchSize("JOB_BATCH_SIZE", 50),
		Backoff:   config.Duration("JOB_BACKOFF", 30*time.Second),
	})
	handlers.Register(worker)
	go worker.Run(ctx)

	limiter := redisx.NewFixedWindowLimiter(rdb,
		config.Int("EMAIL_LIMIT_PER_WINDOW", 10),
		config.Duration("EMAIL_LIMIT_WINDOW", time.Hour),
		"ratelimit:email",
	)
	dispatcher := notifier.NewDispatcher(
		notifier.NewRedisDeduper(rdb),
		notifier.NewPostgresDirectory(pool),
		limiter,
		jobsRepo,
		logger,
		config.String("TOPIC_PREFIX", "epop"),
	)

	brokers := config.String("KAFKA_BROKERS", "")
	eventConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notifier-service"),
		Topics:  dispatcher.Topics(),
	}, dispatcher.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", promhttp.Handler())
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notifier")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
