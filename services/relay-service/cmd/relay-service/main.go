package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/epop-app/eventbus/libs/config"
	"github.com/epop-app/eventbus/libs/db"
	"github.com/epop-app/eventbus/libs/httpx"
	"github.com/epop-app/eventbus/libs/kafkax"
	otelx "github.com/epop-app/eventbus/libs/otel"
	"github.com/epop-app/eventbus/libs/runtime"
	"github.com/epop-app/eventbus/outbox"
	"github.com/epop-app/eventbus/services/relay-service/internal/relay"
)

func main() {
	service := config.String("SERVICE_NAME", "relay-service")
	port, err := config.Port("PORT", "8091")
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

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository(pool, logger)
	bus := relay.NewKafkaBus(brokers)
	defer bus.Close()

	publisher := relay.NewPublisher(outboxRepo, bus, logger, relay.PublisherConfig{
		TopicPrefix: config.String("TOPIC_PREFIX", "epop"),
		Interval:    config.Duration("OUTBOX_POLL_INTERVAL", time.Second),
		BatchSize:   config.BatchSize("OUTBOX_BATCH_SIZE", 100),
	})
	go publisher.Run(ctx)

	reaper := relay.NewReaper(outboxRepo, logger,
		config.Duration("MAINTENANCE_INTERVAL", 5*time.Minute),
		config.Duration("OUTBOX_RETAIN", 720*time.Hour),
	)
	go reaper.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", promhttp.Handler())
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "relay")
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
