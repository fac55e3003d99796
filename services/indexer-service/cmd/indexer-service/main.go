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
	"github.com/epop-app/eventbus/libs/httpx"
	"github.com/epop-app/eventbus/libs/kafkax"
	otelx "github.com/epop-app/eventbus/libs/otel"
	"github.com/epop-app/eventbus/libs/runtime"
	"github.com/epop-app/eventbus/services/indexer-service/internal/indexer"
	"github.com/epop-app/eventbus/services/indexer-service/internal/search"
)

func main() {
	service := config.String("SERVICE_NAME", "indexer-service")
	port, err := config.Port("PORT", "8092")
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

	index, err := search.NewClickHouseIndex(
		config.String("CLICKHOUSE_ADDR", "localhost:9000"),
		config.String("CLICKHOUSE_DATABASE", "epop"),
	)
	if err != nil {
		logger.Error("clickhouse connection failed", "err", err)
		panic(err)
	}

	jobsRepo := jobs.NewRepository(pool)
	source := indexer.NewPostgresSource(pool)
	handlers := indexer.NewHandlers(source, index, jobsRepo, logger)

	worker := jobs.NewWorker(jobsRepo, logger, jobs.WorkerConfig{
		Queue:     jobs.QueueIndexing,
		Interval:  config.Duration("JOB_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.BatchSize("JOB_BATCH_SIZE", 50),
		Backoff:   config.Duration("JOB_BACKOFF", 30*time.Second),
	})
	handlers.Register(worker)
	go worker.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	consumer := indexer.NewConsumer(jobsRepo, logger, config.String("TOPIC_PREFIX", "epop"))
	eventConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "indexer-service"),
		Topics:  consumer.Topics(),
	}, consumer.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		runtime.ReadyCheck{Name: "clickhouse", Check: index.ReadyCheck()},
	)
	mux.Handle("/metrics", promhttp.Handler())
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "indexer")
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
