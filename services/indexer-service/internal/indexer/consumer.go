package indexer

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/jobs"
	"github.com/epop-app/eventbus/libs/kafkax"
)

// Enqueuer is the queue surface the consumer needs; *jobs.Repository implements it.
type Enqueuer interface {
	EnqueueDirect(ctx context.Context, queue string, jobType string, payload any, maxAttempts int) error
}

const maxIndexAttempts = 8

// Consumer turns indexable domain events into durable indexing jobs.
// Duplicate deliveries just enqueue another re-read, which converges on the
// same document.
type Consumer struct {
	queue  Enqueuer
	logger *slog.Logger
	prefix string
}

func NewConsumer(queue Enqueuer, logger *slog.Logger, topicPrefix string) *Consumer {
	return &Consumer{queue: queue, logger: logger, prefix: topicPrefix}
}

// Topics returns the topic subset this consumer subscribes to: only names the
// registry marks indexable.
func (c *Consumer) Topics() []string {
	var topics []string
	for _, name := range events.All() {
		if name.Traits().IndexAction != events.IndexNone {
			topics = append(topics, name.Topic(c.prefix))
		}
	}
	return topics
}

func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	name := events.Name(meta.EventName)
	if !name.Valid() {
		c.logger.Warn("non-domain message on indexer topic", "event_name", meta.EventName)
		return nil
	}

	flat, err := events.ParseWire(msg.Value)
	if err != nil {
		return err
	}
	aggregateID := events.WireString(flat, "aggregateId")
	if aggregateID == "" {
		c.logger.Warn("indexable event without aggregate id", "event_name", name)
		return nil
	}

	traits := name.Traits()
	payload := jobs.IndexDocPayload{Entity: traits.IndexEntity, ID: aggregateID}
	switch traits.IndexAction {
	case events.IndexUpsert:
		return c.queue.EnqueueDirect(ctx, jobs.QueueIndexing, jobs.TypeIndexDoc, payload, maxIndexAttempts)
	case events.IndexDelete:
		return c.queue.EnqueueDirect(ctx, jobs.QueueIndexing, jobs.TypeDeleteDoc, payload, maxIndexAttempts)
	default:
		return nil
	}
}
