package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/services/gateway-service/internal/ws"
)

type captured struct {
	room  string
	frame ws.Frame
}

type fakeBroadcaster struct {
	frames []captured
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, room string, frame ws.Frame) {
	f.frames = append(f.frames, captured{room: room, frame: frame})
}

func (f *fakeBroadcaster) BroadcastHere(room string, frame ws.Frame) {
	f.frames = append(f.frames, captured{room: room, frame: frame})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle_RoutesToChatRoomUnderBothNames(t *testing.T) {
	bc := &fakeBroadcaster{}
	b := NewBridge(bc, testLogger())

	msg := kafka.Message{Value: []byte(`{"name":"chat.message.created","aggregateType":"message","aggregateId":"7","chatId":"42"}`)}
	if err := b.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(bc.frames) != 2 {
		t.Fatalf("expected 2 emits (dotted + colon), got %d", len(bc.frames))
	}
	for _, got := range bc.frames {
		if got.room != "chat:42" {
			t.Fatalf("expected room chat:42, got %q", got.room)
		}
	}
	if bc.frames[0].frame.Event != "chat.message.created" || bc.frames[1].frame.Event != "chat:message_created" {
		t.Fatalf("unexpected outward names: %q, %q", bc.frames[0].frame.Event, bc.frames[1].frame.Event)
	}
}

func TestHandle_FourSegmentNameEmitsDottedOnly(t *testing.T) {
	bc := &fakeBroadcaster{}
	b := NewBridge(bc, testLogger())

	msg := kafka.Message{Value: []byte(`{"name":"chat.message.reaction.added","aggregateType":"message","aggregateId":"7","chatId":"3"}`)}
	if err := b.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(bc.frames) != 1 || bc.frames[0].frame.Event != "chat.message.reaction.added" {
		t.Fatalf("expected only the dotted form, got %v", bc.frames)
	}
}

func TestHandle_BadMessagesReturnErrors(t *testing.T) {
	b := NewBridge(&fakeBroadcaster{}, testLogger())

	if err := b.Handle(context.Background(), kafka.Message{Value: []byte("{broken")}); err == nil {
		t.Fatal("expected parse error")
	}
	if err := b.Handle(context.Background(), kafka.Message{Value: []byte(`{"name":"chat.message.invented","aggregateId":"1"}`)}); err == nil {
		t.Fatal("expected unknown-name error")
	}
}

func TestRooms_PriorityAndMultiTarget(t *testing.T) {
	rooms := Rooms(map[string]any{"chatId": "1", "projectId": "2", "userId": "3"})
	want := []string{"chat:1", "project:2", "user:3"}
	if len(rooms) != len(want) {
		t.Fatalf("expected %v, got %v", want, rooms)
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, rooms)
		}
	}
}

func TestRooms_FallbackToAggregate(t *testing.T) {
	rooms := Rooms(map[string]any{"aggregateType": "file", "aggregateId": "f9"})
	if len(rooms) != 1 || rooms[0] != "file:f9" {
		t.Fatalf("expected aggregate fallback room, got %v", rooms)
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := Normalize(map[string]any{
		"aggregateId": "7",
		"messageId":   "7", // duplicate of aggregateId
		"chatId":      "42",
		"userId":      "u1",
		"body":        "hello",
	}, now)

	ids, ok := out["ids"].([]string)
	if !ok {
		t.Fatalf("ids missing: %v", out)
	}
	if len(ids) != 2 || ids[0] != "7" || ids[1] != "42" {
		t.Fatalf("expected deduplicated ids [7 42], got %v", ids)
	}
	if out["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("expected defaulted timestamp, got %v", out["timestamp"])
	}
	if out["actorId"] != "u1" {
		t.Fatalf("expected actorId from userId, got %v", out["actorId"])
	}
	if out["requestId"] != nil {
		t.Fatalf("expected null requestId, got %v", out["requestId"])
	}
	if out["body"] != "hello" {
		t.Fatal("original fields must be preserved")
	}
}

func TestNormalize_NoActor(t *testing.T) {
	out := Normalize(map[string]any{"aggregateId": "7"}, time.Now())
	if out["actorId"] != nil {
		t.Fatalf("expected null actorId, got %v", out["actorId"])
	}
}
