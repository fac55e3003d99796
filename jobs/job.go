package jobs

import (
	"encoding/json"
	"time"
)

// Queue names and job types consumed by the workers.
const (
	QueueIndexing      = "indexing"
	QueueNotifications = "notifications"

	TypeIndexDoc  = "index_doc"
	TypeDeleteDoc = "delete_doc"
	TypeBackfill  = "backfill"
	TypePush      = "push"
	TypeEmail     = "email"
)

type Job struct {
	ID          int64
	Queue       string
	Type        string
	Payload     []byte
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
	Traceparent string
	Tracestate  string
	CreatedAt   time.Time
}

// IndexDocPayload serves both index_doc and delete_doc.
type IndexDocPayload struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

type BackfillPayload struct {
	Entity string `json:"entity"`
}

type PushPayload struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

type EmailPayload struct {
	UserID  string `json:"userId"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
