package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/epop-app/eventbus/events"
)

// Record is one persisted outbox row. Rows are append-only: only DeliveredAt
// ever changes, and once set it is never cleared.
type Record struct {
	ID            int64
	EventID       uuid.UUID
	EventName     events.Name
	AggregateType string
	AggregateID   string
	UserID        string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}
