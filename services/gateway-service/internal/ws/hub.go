package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/epop-app/eventbus/libs/metrics"
)

// Frame is one server→client message: an event name and its payload.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Sharer mirrors room broadcasts to the other gateway instances.
// *RedisAdapter implements it; a nil Sharer keeps fanout instance-local.
type Sharer interface {
	Share(ctx context.Context, room string, frame []byte)
}

// Hub owns room membership and fanout for one gateway instance. Membership is
// plain: whoever asks to join a room joins it; authorization happens before a
// producer ever emits into the room.
type Hub struct {
	logger *slog.Logger
	sharer Sharer

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		rooms:   map[string]map[*Client]struct{}{},
		clients: map[*Client]struct{}{},
	}
}

// AttachSharer wires the cross-instance adapter. Must happen before the
// transport bridge starts delivering events.
func (h *Hub) AttachSharer(s Sharer) {
	h.sharer = s
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(n))
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Client]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a client-originated frame to every member of room, here
// and on every other gateway instance. Server events arriving over the
// transport go through BroadcastHere instead.
func (h *Hub) Broadcast(ctx context.Context, room string, frame Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("frame marshal failed", "event", frame.Event, "err", err)
		return
	}
	h.BroadcastLocal(room, raw)
	if h.sharer != nil {
		h.sharer.Share(ctx, room, raw)
	}
}

// BroadcastHere delivers a frame to this instance's members only. The
// transport bridge uses it: every gateway instance consumes every event
// itself, so resharing bridge frames over the adapter would hand each room
// member one copy per instance.
func (h *Hub) BroadcastHere(room string, frame Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("frame marshal failed", "event", frame.Event, "err", err)
		return
	}
	h.BroadcastLocal(room, raw)
}

// BroadcastLocal delivers a pre-encoded frame to this instance's members only.
// A client whose send buffer is full misses the frame; reliability for the
// paths that matter lives in the job queues, not here.
func (h *Hub) BroadcastLocal(room string, raw []byte) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("slow client, frame dropped", "room", room)
		}
	}
}

// RoomSize is used by tests and the debug endpoint.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
