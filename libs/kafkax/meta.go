package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the canonical metadata carried on Kafka messages across services.
type EventMeta struct {
	EventID   string
	EventName string
}

const (
	HeaderEventID   = "event_id"
	HeaderEventName = "event_name"
)

func ExtractEventMeta(msg kafka.Message) EventMeta {
	eventID := HeaderValue(msg.Headers, HeaderEventID)
	eventName := HeaderValue(msg.Headers, HeaderEventName)
	if eventID == "" {
		eventID = string(msg.Key)
	}
	if eventName == "" {
		eventName = msg.Topic
	}
	return EventMeta{EventID: eventID, EventName: eventName}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
