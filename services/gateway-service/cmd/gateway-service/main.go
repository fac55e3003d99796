package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/libs/config"
	"github.com/epop-app/eventbus/libs/httpx"
	"github.com/epop-app/eventbus/libs/kafkax"
	otelx "github.com/epop-app/eventbus/libs/otel"
	"github.com/epop-app/eventbus/libs/redisx"
	"github.com/epop-app/eventbus/libs/runtime"
	"github.com/epop-app/eventbus/services/gateway-service/internal/gateway"
	"github.com/epop-app/eventbus/services/gateway-service/internal/ws"
)

func main() {
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8090")
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

	redisURL, err := config.RequiredString("REDIS_URL")
	if err != nil {
		panic(err)
	}
	rdb, err := redisx.Open(ctx, redisURL)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer rdb.Close()

	hub := ws.NewHub(logger)

	// Cross-instance room sharing attaches before the transport bridge starts,
	// so no event fans out while the instance is still isolated.
	instance := uuid.NewString()
	adapter := ws.NewRedisAdapter(rdb, hub, logger, instance)
	hub.AttachSharer(adapter)
	go adapter.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	prefix := config.String("TOPIC_PREFIX", "epop")
	bridge := gateway.NewBridge(hub, logger)
	// Each gateway instance gets its own group id: every instance sees every
	// event, fanout to clients is room-scoped.
	consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: "gateway-" + instance,
		Topics:  events.Topics(prefix),
	}, bridge.Handle)
	go consumer.Run(ctx)

	dispatcher := gateway.NewDispatcher(hub, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", promhttp.Handler())
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "gateway")

	// The upgrade path needs the raw ResponseWriter (Hijacker), so /ws stays
	// outside the logging/otel wrappers.
	wsLimiter := httpx.NewRateLimiter(config.Int("WS_HANDSHAKES_PER_MINUTE", 120), time.Minute)
	root := http.NewServeMux()
	root.Handle("/ws", wsLimiter.Middleware()(ws.ServeWS(hub, dispatcher.Handle)))
	root.Handle("/", handler)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "instance", instance)
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
