package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/services/gateway-service/internal/ws"
)

// LocalBroadcaster is the hub surface the bridge emits into; *ws.Hub
// implements it. Bridge frames never cross the instance adapter: each
// gateway instance consumes every transport event under its own group id,
// so a reshared bridge frame would reach room members once per instance.
type LocalBroadcaster interface {
	BroadcastHere(room string, frame ws.Frame)
}

// Bridge fans transport events out into interest-scoped rooms.
type Bridge struct {
	hub    LocalBroadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewBridge(hub LocalBroadcaster, logger *slog.Logger) *Bridge {
	return &Bridge{hub: hub, logger: logger, now: time.Now}
}

// Handle processes one transport message. Errors are reported to the consumer
// loop, which logs and moves on; a bad message never stops the subscription.
func (b *Bridge) Handle(ctx context.Context, msg kafka.Message) error {
	flat, err := events.ParseWire(msg.Value)
	if err != nil {
		return fmt.Errorf("parse wire body: %w", err)
	}
	name := events.Name(events.WireString(flat, "name"))
	if !name.Valid() {
		return fmt.Errorf("unknown event name %q", flat["name"])
	}

	rooms := Rooms(flat)
	payload := Normalize(flat, b.now())

	for _, outward := range OutboundNames(name) {
		frame := ws.Frame{Event: outward, Data: payload}
		for _, room := range rooms {
			b.hub.BroadcastHere(room, frame)
		}
	}
	return nil
}

// Rooms derives the target rooms from the well-known id fields, in priority
// order chat, project, user. Multiple id fields target multiple rooms; with
// none present the event falls back to its aggregate room.
func Rooms(flat map[string]any) []string {
	var rooms []string
	if id := events.WireString(flat, "chatId"); id != "" {
		rooms = append(rooms, "chat:"+id)
	}
	if id := events.WireString(flat, "projectId"); id != "" {
		rooms = append(rooms, "project:"+id)
	}
	if id := events.WireString(flat, "userId"); id != "" {
		rooms = append(rooms, "user:"+id)
	}
	if len(rooms) == 0 {
		rooms = append(rooms, events.WireString(flat, "aggregateType")+":"+events.WireString(flat, "aggregateId"))
	}
	return rooms
}

// OutboundNames returns the wire names an event is emitted under: the dotted
// form always, the colon alias when the name has one.
func OutboundNames(name events.Name) []string {
	names := []string{string(name)}
	if alias := name.ColonAlias(); alias != "" {
		names = append(names, alias)
	}
	return names
}

// idFields are collected, in this order, into the outward ids array.
var idFields = []string{"aggregateId", "messageId", "taskId", "chatId", "projectId", "fileId", "mailId"}

// Normalize shapes the outward payload: the original fields plus a
// deduplicated ids array, a timestamp, an actor id and a request id.
func Normalize(flat map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(flat)+4)
	for k, v := range flat {
		out[k] = v
	}

	var ids []string
	seen := map[string]struct{}{}
	for _, field := range idFields {
		id := events.WireString(flat, field)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	out["ids"] = ids

	if events.WireString(flat, "timestamp") == "" {
		out["timestamp"] = now.UTC().Format(time.RFC3339)
	}
	if actor := events.WireString(flat, "userId"); actor != "" {
		out["actorId"] = actor
	} else {
		out["actorId"] = nil
	}
	if _, ok := flat["requestId"]; !ok {
		out["requestId"] = nil
	}
	return out
}
