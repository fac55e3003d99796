package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/jobs"
	"github.com/epop-app/eventbus/libs/kafkax"
	"github.com/epop-app/eventbus/libs/metrics"
)

const (
	pushDedupTTL    = 60 * time.Second
	emailDedupTTL   = time.Hour
	maxPushAttempts = 5
)

// Deduper is an atomic set-if-not-exists guard; *RedisDeduper implements it.
// Release undoes an Acquire so a failed dispatch does not suppress the retry.
type Deduper interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Participant is one resolvable notification target.
type Participant struct {
	UserID       string
	Email        string
	EmailEnabled bool
}

// Directory resolves room participants and their stored preferences;
// *PostgresDirectory implements it.
type Directory interface {
	ChatParticipants(ctx context.Context, chatID string) ([]Participant, error)
	User(ctx context.Context, userID string) (Participant, bool, error)
}

// RateLimiter gates the email path; *redisx.FixedWindowLimiter implements it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Enqueuer is the queue surface; *jobs.Repository implements it.
type Enqueuer interface {
	EnqueueDirect(ctx context.Context, queue string, jobType string, payload any, maxAttempts int) error
}

// Dispatcher fans urgent events out into push and email jobs. Redelivered
// duplicates of the same outbox row are absorbed by the dedup guards, so
// at-least-once transport never multiplies pushes.
type Dispatcher struct {
	dedup     Deduper
	directory Directory
	limiter   RateLimiter
	queue     Enqueuer
	logger    *slog.Logger
	prefix    string
}

func NewDispatcher(dedup Deduper, directory Directory, limiter RateLimiter, queue Enqueuer, logger *slog.Logger, topicPrefix string) *Dispatcher {
	return &Dispatcher{
		dedup:     dedup,
		directory: directory,
		limiter:   limiter,
		queue:     queue,
		logger:    logger,
		prefix:    topicPrefix,
	}
}

// Topics returns the urgent-class topic subset.
func (d *Dispatcher) Topics() []string {
	var topics []string
	for _, name := range events.All() {
		if name.Traits().Class == events.ClassUrgent {
			topics = append(topics, name.Topic(d.prefix))
		}
	}
	return topics
}

func (d *Dispatcher) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	name := events.Name(meta.EventName)
	if !name.Valid() || name.Traits().Class != events.ClassUrgent {
		return nil
	}

	flat, err := events.ParseWire(msg.Value)
	if err != nil {
		return err
	}

	if chatID := events.WireString(flat, "chatId"); chatID != "" {
		return d.dispatchChat(ctx, chatID, flat)
	}
	return d.dispatchDirect(ctx, flat)
}

// dispatchChat pushes to every chat participant except the sender.
func (d *Dispatcher) dispatchChat(ctx context.Context, chatID string, flat map[string]any) error {
	messageID := events.WireString(flat, "aggregateId")
	sender := events.WireString(flat, "userId")

	// Resolve and marshal before touching the guard: a directory failure
	// must leave the key free so the redelivery can still notify.
	participants, err := d.directory.ChatParticipants(ctx, chatID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(flat)
	if err != nil {
		return err
	}

	dedupKey := "notif:dedup:" + chatID + ":" + messageID
	fresh, err := d.dedup.Acquire(ctx, dedupKey, pushDedupTTL)
	if err != nil {
		return err
	}
	if !fresh {
		metrics.NotificationDedupHits.Inc()
		d.logger.Info("duplicate delivery suppressed", "chat_id", chatID, "message_id", messageID)
		return nil
	}

	for _, target := range participants {
		if target.UserID == sender {
			continue
		}
		if err := d.enqueuePush(ctx, target.UserID, body); err != nil {
			d.release(ctx, dedupKey)
			return err
		}
		if target.EmailEnabled && target.Email != "" {
			if err := d.maybeEnqueueEmail(ctx, target, flat); err != nil {
				d.release(ctx, dedupKey)
				return err
			}
		}
	}
	return nil
}

// dispatchDirect handles urgent events with no chat scope (password resets):
// the aggregate user is the only target and the dedup key is the event id.
func (d *Dispatcher) dispatchDirect(ctx context.Context, flat map[string]any) error {
	userID := events.WireString(flat, "aggregateId")
	if userID == "" {
		return nil
	}

	eventName := events.WireString(flat, "name")
	target, ok, err := d.directory.User(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Info("urgent event for unknown user", "event_name", eventName, "user_id", userID)
		return nil
	}
	body, err := json.Marshal(flat)
	if err != nil {
		return err
	}

	dedupKey := "notif:dedup:" + eventName + ":" + userID
	fresh, err := d.dedup.Acquire(ctx, dedupKey, pushDedupTTL)
	if err != nil {
		return err
	}
	if !fresh {
		metrics.NotificationDedupHits.Inc()
		return nil
	}

	if err := d.enqueuePush(ctx, target.UserID, body); err != nil {
		d.release(ctx, dedupKey)
		return err
	}
	if target.EmailEnabled && target.Email != "" {
		if err := d.maybeEnqueueEmail(ctx, target, flat); err != nil {
			d.release(ctx, dedupKey)
			return err
		}
	}
	return nil
}

func (d *Dispatcher) enqueuePush(ctx context.Context, userID string, body []byte) error {
	payload := jobs.PushPayload{UserID: userID, Payload: body}
	return d.queue.EnqueueDirect(ctx, jobs.QueueNotifications, jobs.TypePush, payload, maxPushAttempts)
}

func (d *Dispatcher) maybeEnqueueEmail(ctx context.Context, target Participant, flat map[string]any) error {
	fresh, err := d.dedup.Acquire(ctx, "notif:email:"+target.UserID, emailDedupTTL)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, "email:"+target.UserID)
		if err != nil {
			d.logger.Warn("email rate limiter unavailable, skipping email", "user_id", target.UserID, "err", err)
			return nil
		}
		if !allowed {
			return nil
		}
	}

	payload := jobs.EmailPayload{
		UserID:  target.UserID,
		To:      target.Email,
		Subject: "New activity in your workspace",
		Body:    emailBody(flat),
	}
	if err := d.queue.EnqueueDirect(ctx, jobs.QueueNotifications, jobs.TypeEmail, payload, maxPushAttempts); err != nil {
		d.release(ctx, "notif:email:"+target.UserID)
		return err
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if err := d.dedup.Release(ctx, key); err != nil {
		d.logger.Warn("dedup release failed", "key", key, "err", err)
	}
}

func emailBody(flat map[string]any) string {
	if body := events.WireString(flat, "body"); body != "" {
		return body
	}
	return "You have unread activity. Open the app to catch up."
}
