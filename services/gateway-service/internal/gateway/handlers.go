package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/epop-app/eventbus/libs/metrics"
	"github.com/epop-app/eventbus/services/gateway-service/internal/ws"
)

// Room membership operations and their room prefixes. The payload is the raw
// id string; no authorization happens at this layer.
var joinOps = map[string]string{
	"join_chat":    "chat",
	"join_project": "project",
	"join_user":    "user",
}

var leaveOps = map[string]string{
	"leave_chat":    "chat",
	"leave_project": "project",
	"leave_user":    "user",
}

const (
	typingStartDotted = "chat.typing.start"
	typingStartColon  = "chat:typing_start"
	typingStopDotted  = "chat.typing.stop"
	typingStopColon   = "chat:typing_stop"
)

type typingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// Broadcaster is the fanout surface for client-originated frames; *ws.Hub
// implements it. Unlike bridge frames, these reach one instance only, so
// Broadcast shares them across instances through the adapter.
type Broadcaster interface {
	Broadcast(ctx context.Context, room string, frame ws.Frame)
}

// Dispatcher routes client→server frames: room membership and typing indicators.
type Dispatcher struct {
	hub      *ws.Hub
	bc       Broadcaster
	throttle *Throttle
	logger   *slog.Logger
}

func NewDispatcher(hub *ws.Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		bc:       hub,
		throttle: NewThrottle(time.Second),
		logger:   logger,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, c *ws.Client, event string, data json.RawMessage) {
	switch {
	case joinOps[event] != "":
		if room := roomFromRawID(joinOps[event], data); room != "" {
			d.hub.Join(c, room)
		}
	case leaveOps[event] != "":
		if room := roomFromRawID(leaveOps[event], data); room != "" {
			d.hub.Leave(c, room)
		}
	case event == typingStartDotted || event == typingStartColon:
		d.handleTypingStart(ctx, data)
	case event == typingStopDotted || event == typingStopColon:
		d.handleTypingStop(ctx, data)
	default:
		d.logger.Debug("unknown client event", "event", event)
	}
}

func (d *Dispatcher) handleTypingStart(ctx context.Context, data json.RawMessage) {
	payload, ok := parseTyping(data)
	if !ok {
		return
	}
	if !d.throttle.Allow(payload.ChatID + ":" + payload.UserID) {
		metrics.TypingThrottled.Inc()
		return
	}
	d.broadcastTyping(ctx, typingStartDotted, typingStartColon, payload)
}

func (d *Dispatcher) handleTypingStop(ctx context.Context, data json.RawMessage) {
	payload, ok := parseTyping(data)
	if !ok {
		return
	}
	d.broadcastTyping(ctx, typingStopDotted, typingStopColon, payload)
}

func (d *Dispatcher) broadcastTyping(ctx context.Context, dotted, colon string, payload typingPayload) {
	room := "chat:" + payload.ChatID
	d.bc.Broadcast(ctx, room, ws.Frame{Event: dotted, Data: payload})
	d.bc.Broadcast(ctx, room, ws.Frame{Event: colon, Data: payload})
}

func parseTyping(data json.RawMessage) (typingPayload, bool) {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return typingPayload{}, false
	}
	if payload.ChatID == "" || payload.UserID == "" {
		return typingPayload{}, false
	}
	return payload, true
}

func roomFromRawID(prefix string, data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		// Tolerate unquoted ids from older clients.
		id = strings.Trim(string(data), `" `)
	}
	if id == "" {
		return ""
	}
	return prefix + ":" + id
}
