package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is pinned; bump only with a new payload contract.
const SchemaVersion = 1

// Envelope is the logical domain event. Producers construct one at the moment
// of a successful business mutation; consumers never mutate it.
type Envelope struct {
	ID            uuid.UUID      `json:"id"`
	Name          Name           `json:"name"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	UserID        string         `json:"userId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       int            `json:"version"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Normalize fills defaults: id, timestamp, version, and the aggregate type
// from the name registry when the producer left it empty.
func (e *Envelope) Normalize(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	e.Version = SchemaVersion
	if e.AggregateType == "" {
		e.AggregateType = e.Name.Traits().AggregateType
	}
}

func (e *Envelope) Validate() error {
	if !e.Name.Valid() {
		return fmt.Errorf("event name %q is not in the closed set", e.Name)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("event %s has no aggregate id", e.Name)
	}
	return nil
}

// metadataOccupies reports whether the envelope will write this top-level
// wire key itself. Payload fields under an occupied key are dropped so
// metadata wins; a payload userId survives when the envelope carries none.
func (e *Envelope) metadataOccupies(key string) bool {
	switch key {
	case "name", "aggregateType", "aggregateId":
		return true
	case "userId":
		return e.UserID != ""
	}
	return false
}

// WireBody flattens the payload fields beside the event metadata into one
// flat JSON object, the shape every transport consumer parses.
func (e *Envelope) WireBody() ([]byte, error) {
	flat := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		if e.metadataOccupies(k) {
			continue
		}
		flat[k] = v
	}
	flat["name"] = string(e.Name)
	flat["aggregateType"] = e.AggregateType
	flat["aggregateId"] = e.AggregateID
	if e.UserID != "" {
		flat["userId"] = e.UserID
	}
	return json.Marshal(flat)
}

// ParseWire decodes a transport message body back into its flat field map.
func ParseWire(body []byte) (map[string]any, error) {
	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, err
	}
	if _, ok := flat["name"].(string); !ok {
		return nil, fmt.Errorf("wire body has no event name")
	}
	return flat, nil
}

// WireString reads a string field from a parsed wire body, "" when absent.
func WireString(flat map[string]any, key string) string {
	v, _ := flat[key].(string)
	return v
}
