package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/jobs"
	"github.com/epop-app/eventbus/libs/email"
	"github.com/epop-app/eventbus/services/notifier-service/internal/storage"
)

// Recorder persists one row per delivery attempt; *storage.Repository
// implements it.
type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Handlers hosts the job-side of the dispatcher: the dispatcher enqueues,
// these handlers deliver.
type Handlers struct {
	push   PushSender
	email  email.Sender
	store  Recorder
	logger *slog.Logger
}

func NewHandlers(push PushSender, sender email.Sender, store Recorder, logger *slog.Logger) *Handlers {
	return &Handlers{
		push:   push,
		email:  sender,
		store:  store,
		logger: logger,
	}
}

func (h *Handlers) Register(w *jobs.Worker) {
	w.Handle(jobs.TypePush, h.Push)
	w.Handle(jobs.TypeEmail, h.Email)
}

func (h *Handlers) Push(ctx context.Context, payload []byte) error {
	var p jobs.PushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	sendErr := h.push.Send(ctx, p.UserID, p.Payload)
	h.record(ctx, storage.Notification{
		UserID:    p.UserID,
		EventName: pushEventName(p.Payload),
		Channel:   storage.ChannelPush,
		Recipient: h.push.ProviderID(),
		Payload:   map[string]any{"body": json.RawMessage(p.Payload)},
		Status:    status(sendErr),
	})
	return sendErr
}

func (h *Handlers) Email(ctx context.Context, payload []byte) error {
	var p jobs.EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	sendErr := h.email.Send(p.To, p.Subject, p.Body)
	h.record(ctx, storage.Notification{
		UserID:    p.UserID,
		Channel:   storage.ChannelEmail,
		Recipient: p.To,
		Payload:   map[string]any{"subject": p.Subject},
		Status:    status(sendErr),
	})
	return sendErr
}

// record never fails the job; a lost audit row is not worth a redelivered push.
func (h *Handlers) record(ctx context.Context, n storage.Notification) {
	if err := h.store.Insert(ctx, n); err != nil {
		h.logger.Warn("notification row insert failed", "channel", n.Channel, "user_id", n.UserID, "err", err)
	}
}

func pushEventName(body []byte) string {
	flat, err := events.ParseWire(body)
	if err != nil {
		return ""
	}
	return events.WireString(flat, "name")
}

func status(err error) string {
	if err != nil {
		return storage.StatusFailed
	}
	return storage.StatusSent
}
