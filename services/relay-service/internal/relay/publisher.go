package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/libs/kafkax"
	"github.com/epop-app/eventbus/libs/metrics"
	otelx "github.com/epop-app/eventbus/libs/otel"
	"github.com/epop-app/eventbus/outbox"
)

// Store is the outbox surface the publisher polls; *outbox.Repository implements it.
type Store interface {
	FetchBatch(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkBatch(ctx context.Context, ids []int64) error
	Backlog(ctx context.Context) (int64, error)
}

// Bus publishes one wire message; *KafkaBus implements it.
type Bus interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Publisher repeatedly drains the outbox onto the transport. Rows whose
// publish fails stay undelivered and are retried on the next tick, forever:
// delivery is at-least-once with no dead-lettering at this layer.
type Publisher struct {
	store       Store
	bus         Bus
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

type PublisherConfig struct {
	TopicPrefix string
	Interval    time.Duration
	BatchSize   int
}

func NewPublisher(store Store, bus Bus, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "epop"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Publisher{
		store:       store,
		bus:         bus,
		logger:      logger,
		topicPrefix: cfg.TopicPrefix,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Error("outbox tick failed", "err", err)
			}
		}
	}
}

// Tick publishes one batch. A per-row publish error is contained: the row is
// skipped this tick and stays undelivered. Only rows that published without
// error are marked delivered.
func (p *Publisher) Tick(ctx context.Context) error {
	records, err := p.store.FetchBatch(ctx, p.batchSize)
	if err != nil {
		return err
	}

	var delivered []int64
	for _, rcd := range records {
		topic := rcd.EventName.Topic(p.topicPrefix)
		msg, err := p.wireMessage(rcd, topic)
		if err != nil {
			metrics.PublishErrors.WithLabelValues(topic).Inc()
			p.logger.Error("outbox row not publishable", "outbox_id", rcd.ID, "event_name", rcd.EventName, "err", err)
			continue
		}

		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

		if err := p.bus.Publish(msgCtx, msg); err != nil {
			metrics.PublishErrors.WithLabelValues(topic).Inc()
			p.logger.Error("publish failed, row left undelivered", "outbox_id", rcd.ID, "topic", topic, "err", err)
			continue
		}
		metrics.PublishedEvents.WithLabelValues(topic).Inc()
		delivered = append(delivered, rcd.ID)
	}

	if err := p.store.MarkBatch(ctx, delivered); err != nil {
		return err
	}

	if backlog, err := p.store.Backlog(ctx); err == nil {
		metrics.OutboxBacklog.Set(float64(backlog))
	}
	return nil
}

func (p *Publisher) wireMessage(rcd outbox.Record, topic string) (kafka.Message, error) {
	var payload map[string]any
	if len(rcd.Payload) > 0 {
		if err := json.Unmarshal(rcd.Payload, &payload); err != nil {
			return kafka.Message{}, err
		}
	}

	env := events.Envelope{
		ID:            rcd.EventID,
		Name:          rcd.EventName,
		AggregateType: rcd.AggregateType,
		AggregateID:   rcd.AggregateID,
		UserID:        rcd.UserID,
		Timestamp:     rcd.CreatedAt,
		Version:       events.SchemaVersion,
		Payload:       payload,
	}
	body, err := env.WireBody()
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(rcd.AggregateID),
		Value: body,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(rcd.EventID.String())},
			{Key: kafkax.HeaderEventName, Value: []byte(rcd.EventName)},
		},
	}, nil
}

// KafkaBus writes transport messages through one shared kafka writer.
type KafkaBus struct {
	writer *kafka.Writer
}

func NewKafkaBus(brokers string) *KafkaBus {
	return &KafkaBus{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  kafkax.SplitBrokers(brokers),
			Balancer: &kafka.Hash{},
		}),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, msg kafka.Message) error {
	return b.writer.WriteMessages(ctx, msg)
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
