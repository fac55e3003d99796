package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func testClient(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan []byte, buffer)}
	h.register(c)
	return c
}

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBroadcastReachesRoomMembersOnly(t *testing.T) {
	h := testHub()
	member := testClient(h, 4)
	outsider := testClient(h, 4)
	h.Join(member, "chat:42")

	h.Broadcast(context.Background(), "chat:42", Frame{Event: "chat.message.created", Data: map[string]any{"chatId": "42"}})

	select {
	case raw := <-member.send:
		var frame struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("frame decode: %v", err)
		}
		if frame.Event != "chat.message.created" || frame.Data["chatId"] != "42" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatal("room member received nothing")
	}

	select {
	case <-outsider.send:
		t.Fatal("non-member must not receive room frames")
	default:
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := testHub()
	c := testClient(h, 4)
	h.Join(c, "project:p1")
	h.Leave(c, "project:p1")

	h.Broadcast(context.Background(), "project:p1", Frame{Event: "project.task.created"})
	select {
	case <-c.send:
		t.Fatal("client left the room, must not receive")
	default:
	}
}

func TestUnregisterRemovesFromAllRooms(t *testing.T) {
	h := testHub()
	c := testClient(h, 1)
	h.Join(c, "chat:1")
	h.Join(c, "user:u1")
	h.unregister(c)

	if h.RoomSize("chat:1") != 0 || h.RoomSize("user:u1") != 0 {
		t.Fatal("unregister must drop all room memberships")
	}
}

// crossSharer replays shared frames into a peer hub, the way the adapter
// replays frames published by another instance.
type crossSharer struct {
	peer *Hub
}

func (s *crossSharer) Share(_ context.Context, room string, frame []byte) {
	s.peer.BroadcastLocal(room, frame)
}

func TestServerEventsReachEachMemberOnce(t *testing.T) {
	a := testHub()
	b := testHub()
	a.AttachSharer(&crossSharer{peer: b})
	b.AttachSharer(&crossSharer{peer: a})

	member := testClient(a, 4)
	a.Join(member, "chat:42")

	// Both instances consume the same transport event; each fans out locally.
	frame := Frame{Event: "chat.message.created", Data: map[string]any{"chatId": "42"}}
	a.BroadcastHere("chat:42", frame)
	b.BroadcastHere("chat:42", frame)

	if got := len(member.send); got != 1 {
		t.Fatalf("room member received %d copies of one event, want 1", got)
	}
}

func TestClientFramesAreSharedAcrossInstances(t *testing.T) {
	a := testHub()
	b := testHub()
	a.AttachSharer(&crossSharer{peer: b})

	local := testClient(a, 4)
	remote := testClient(b, 4)
	a.Join(local, "chat:1")
	b.Join(remote, "chat:1")

	a.Broadcast(context.Background(), "chat:1", Frame{Event: "chat.typing.start"})

	if got := len(local.send); got != 1 {
		t.Fatalf("local member got %d frames, want 1", got)
	}
	if got := len(remote.send); got != 1 {
		t.Fatalf("remote member got %d frames, want 1", got)
	}
}

func TestSlowClientDropsFrameInsteadOfBlocking(t *testing.T) {
	h := testHub()
	c := testClient(h, 1)
	h.Join(c, "chat:1")

	h.Broadcast(context.Background(), "chat:1", Frame{Event: "chat.message.created"})
	// Buffer is now full; this frame is dropped, the call must not block.
	h.Broadcast(context.Background(), "chat:1", Frame{Event: "chat.message.updated"})

	if got := len(c.send); got != 1 {
		t.Fatalf("expected exactly 1 buffered frame, got %d", got)
	}
}
