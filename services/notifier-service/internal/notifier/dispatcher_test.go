package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/jobs"
)

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeDeduper) Release(_ context.Context, key string) error {
	delete(f.seen, key)
	return nil
}

type fakeDirectory struct {
	participants map[string][]Participant
	failures     int
}

func (f *fakeDirectory) ChatParticipants(_ context.Context, chatID string) ([]Participant, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("directory unavailable")
	}
	return f.participants[chatID], nil
}

func (f *fakeDirectory) User(_ context.Context, userID string) (Participant, bool, error) {
	for _, ps := range f.participants {
		for _, p := range ps {
			if p.UserID == userID {
				return p, true, nil
			}
		}
	}
	return Participant{}, false, nil
}

type fakeLimiter struct {
	deny bool
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return !f.deny, nil
}

type enqueued struct {
	queue   string
	jobType string
	payload any
}

type fakeQueue struct {
	jobs     []enqueued
	failures int
}

func (f *fakeQueue) EnqueueDirect(_ context.Context, queue string, jobType string, payload any, _ int) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("queue unavailable")
	}
	f.jobs = append(f.jobs, enqueued{queue: queue, jobType: jobType, payload: payload})
	return nil
}

func (f *fakeQueue) ofType(jobType string) []enqueued {
	var out []enqueued
	for _, j := range f.jobs {
		if j.jobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

func chatMessage(t *testing.T, eventID, chatID, messageID, senderID string) kafka.Message {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":            eventID,
		"name":          string(events.ChatMessageCreated),
		"aggregateType": "message",
		"aggregateId":   messageID,
		"chatId":        chatID,
		"userId":        senderID,
		"body":          "hello there",
		"timestamp":     "2026-08-30T10:00:00Z",
		"version":       1,
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return kafka.Message{
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_name", Value: []byte(events.ChatMessageCreated)},
		},
	}
}

func newTestDispatcher(dir *fakeDirectory, limiter RateLimiter, queue *fakeQueue) *Dispatcher {
	return NewDispatcher(&fakeDeduper{}, dir, limiter, queue, slog.Default(), "epop")
}

func TestDispatcherFansOutToParticipantsExceptSender(t *testing.T) {
	dir := &fakeDirectory{participants: map[string][]Participant{
		"chat-1": {
			{UserID: "u-sender"},
			{UserID: "u-alice", Email: "alice@example.com", EmailEnabled: true},
			{UserID: "u-bob"},
		},
	}}
	queue := &fakeQueue{}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	msg := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	pushes := queue.ofType(jobs.TypePush)
	if len(pushes) != 2 {
		t.Fatalf("expected 2 push jobs, got %d", len(pushes))
	}
	for _, j := range pushes {
		p := j.payload.(jobs.PushPayload)
		if p.UserID == "u-sender" {
			t.Fatalf("sender should not be pushed")
		}
	}

	emails := queue.ofType(jobs.TypeEmail)
	if len(emails) != 1 {
		t.Fatalf("expected 1 email job, got %d", len(emails))
	}
	e := emails[0].payload.(jobs.EmailPayload)
	if e.To != "alice@example.com" {
		t.Fatalf("email to = %q", e.To)
	}
	if e.Body != "hello there" {
		t.Fatalf("email body = %q", e.Body)
	}
}

func TestDispatcherSuppressesRedeliveredDuplicates(t *testing.T) {
	dir := &fakeDirectory{participants: map[string][]Participant{
		"chat-1": {{UserID: "u-sender"}, {UserID: "u-alice"}},
	}}
	queue := &fakeQueue{}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	msg := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	if got := len(queue.ofType(jobs.TypePush)); got != 1 {
		t.Fatalf("expected 1 push across redeliveries, got %d", got)
	}
}

func TestDispatcherRetriesAfterDirectoryError(t *testing.T) {
	dir := &fakeDirectory{
		participants: map[string][]Participant{
			"chat-1": {{UserID: "u-sender"}, {UserID: "u-alice"}},
		},
		failures: 1,
	}
	queue := &fakeQueue{}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	msg := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	if err := d.Handle(context.Background(), msg); err == nil {
		t.Fatalf("expected directory error on first delivery")
	}
	// The failed attempt must not claim the dedup key, or the redelivery
	// would be swallowed and nobody gets notified.
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := len(queue.ofType(jobs.TypePush)); got != 1 {
		t.Fatalf("expected 1 push after redelivery, got %d", got)
	}
}

func TestDispatcherReleasesDedupOnEnqueueError(t *testing.T) {
	dir := &fakeDirectory{participants: map[string][]Participant{
		"chat-1": {{UserID: "u-sender"}, {UserID: "u-alice"}},
	}}
	queue := &fakeQueue{failures: 1}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	msg := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	if err := d.Handle(context.Background(), msg); err == nil {
		t.Fatalf("expected enqueue error on first delivery")
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := len(queue.ofType(jobs.TypePush)); got != 1 {
		t.Fatalf("expected 1 push after redelivery, got %d", got)
	}
}

func TestDispatcherEmailDedupAcrossMessages(t *testing.T) {
	dir := &fakeDirectory{participants: map[string][]Participant{
		"chat-1": {
			{UserID: "u-sender"},
			{UserID: "u-alice", Email: "alice@example.com", EmailEnabled: true},
		},
	}}
	queue := &fakeQueue{}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	first := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	second := chatMessage(t, "ev-2", "chat-1", "msg-2", "u-sender")
	if err := d.Handle(context.Background(), first); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := d.Handle(context.Background(), second); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	if got := len(queue.ofType(jobs.TypePush)); got != 2 {
		t.Fatalf("expected a push per message, got %d", got)
	}
	if got := len(queue.ofType(jobs.TypeEmail)); got != 1 {
		t.Fatalf("expected the email hourly guard to admit one email, got %d", got)
	}
}

func TestDispatcherEmailRateLimited(t *testing.T) {
	dir := &fakeDirectory{participants: map[string][]Participant{
		"chat-1": {
			{UserID: "u-sender"},
			{UserID: "u-alice", Email: "alice@example.com", EmailEnabled: true},
		},
	}}
	queue := &fakeQueue{}
	d := newTestDispatcher(dir, &fakeLimiter{deny: true}, queue)

	msg := chatMessage(t, "ev-1", "chat-1", "msg-1", "u-sender")
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := len(queue.ofType(jobs.TypeEmail)); got != 0 {
		t.Fatalf("expected no email past the limiter, got %d", got)
	}
	if got := len(queue.ofType(jobs.TypePush)); got != 1 {
		t.Fatalf("push path should be unaffected, got %d", got)
	}
}

func TestDispatcherIgnoresStandardClassEvents(t *testing.T) {
	queue := &fakeQueue{}
	d := newTestDispatcher(&fakeDirectory{}, &fakeLimiter{}, queue)

	body, _ := json.Marshal(map[string]any{
		"id":            "ev-9",
		"name":          string(events.ProjectTaskCreated),
		"aggregateType": "task",
		"aggregateId":   "task-1",
	})
	msg := kafka.Message{
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("ev-9")},
			{Key: "event_name", Value: []byte(events.ProjectTaskCreated)},
		},
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("standard-class event should enqueue nothing, got %d jobs", len(queue.jobs))
	}
}

func TestDispatcherPasswordResetTargetsAggregateUser(t *testing.T) {
	queue := &fakeQueue{}
	dir := &fakeDirectory{participants: map[string][]Participant{
		"": {{UserID: "u-carol", Email: "carol@example.com", EmailEnabled: true}},
	}}
	d := newTestDispatcher(dir, &fakeLimiter{}, queue)

	body, err := json.Marshal(map[string]any{
		"id":            "ev-7",
		"name":          string(events.PasswordResetRequested),
		"aggregateType": "user",
		"aggregateId":   "u-carol",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	msg := kafka.Message{
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("ev-7")},
			{Key: "event_name", Value: []byte(events.PasswordResetRequested)},
		},
	}
	if err := d.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	pushes := queue.ofType(jobs.TypePush)
	if len(pushes) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pushes))
	}
	if p := pushes[0].payload.(jobs.PushPayload); p.UserID != "u-carol" {
		t.Fatalf("push target = %q", p.UserID)
	}
	emails := queue.ofType(jobs.TypeEmail)
	if len(emails) != 1 {
		t.Fatalf("expected 1 email for an opted-in user, got %d", len(emails))
	}
	if e := emails[0].payload.(jobs.EmailPayload); e.To != "carol@example.com" {
		t.Fatalf("email to = %q", e.To)
	}
}

func TestDispatcherTopicsAreUrgentSubset(t *testing.T) {
	d := newTestDispatcher(&fakeDirectory{}, &fakeLimiter{}, &fakeQueue{})
	topics := d.Topics()
	want := map[string]bool{
		"epop.chat.message.created":          true,
		"epop.user.password.reset.requested": true,
		"epop.user.password.reset.completed": true,
	}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v", topics)
	}
	for _, topic := range topics {
		if !want[topic] {
			t.Fatalf("unexpected topic %q", topic)
		}
	}
}
