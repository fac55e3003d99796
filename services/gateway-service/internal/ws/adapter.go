package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// broadcastChannel carries room frames between gateway instances.
const broadcastChannel = "epop.gateway.broadcast"

type sharedFrame struct {
	Instance string          `json:"instance"`
	Room     string          `json:"room"`
	Frame    json.RawMessage `json:"frame"`
}

// RedisAdapter makes room broadcasts visible across gateway instances: every
// local broadcast is republished on a Redis channel, and frames published by
// other instances are replayed into the local hub.
type RedisAdapter struct {
	rdb      *redis.Client
	hub      *Hub
	logger   *slog.Logger
	instance string
}

func NewRedisAdapter(rdb *redis.Client, hub *Hub, logger *slog.Logger, instance string) *RedisAdapter {
	return &RedisAdapter{rdb: rdb, hub: hub, logger: logger, instance: instance}
}

func (a *RedisAdapter) Share(ctx context.Context, room string, frame []byte) {
	body, err := json.Marshal(sharedFrame{Instance: a.instance, Room: room, Frame: frame})
	if err != nil {
		a.logger.Error("share encode failed", "err", err)
		return
	}
	if err := a.rdb.Publish(ctx, broadcastChannel, body).Err(); err != nil {
		a.logger.Error("share publish failed", "room", room, "err", err)
	}
}

func (a *RedisAdapter) Run(ctx context.Context) {
	sub := a.rdb.Subscribe(ctx, broadcastChannel)
	defer func() {
		_ = sub.Unsubscribe(context.Background(), broadcastChannel)
		_ = sub.Close()
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var shared sharedFrame
			if err := json.Unmarshal([]byte(msg.Payload), &shared); err != nil {
				a.logger.Warn("malformed shared frame", "err", err)
				continue
			}
			if shared.Instance == a.instance {
				continue
			}
			a.hub.BroadcastLocal(shared.Room, shared.Frame)
		}
	}
}
