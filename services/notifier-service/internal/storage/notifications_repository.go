package storage

import (
	"context"
	"encoding/json"

	"github.com/epop-app/eventbus/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	ChannelPush  = "push"
	ChannelEmail = "email"
)

type Notification struct {
	UserID    string
	EventName string
	Channel   string
	Recipient string
	Payload   map[string]any
	Status    string
}

// Repository records every delivery attempt so support can answer
// "did this user get notified" without digging through broker logs.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, event_name, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.UserID, n.EventName, n.Channel, n.Recipient, payload, n.Status)
	return err
}
