// event-emit appends a single event to the outbox so the full
// relay -> broker -> consumer path can be exercised without running a
// producer application.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/libs/db"
	"github.com/epop-app/eventbus/libs/runtime"
	"github.com/epop-app/eventbus/outbox"
)

func main() {
	var (
		name        = flag.String("name", getenv("EVENT_NAME", "chat.message.created"), "dotted event name")
		aggregateID = flag.String("aggregate-id", getenv("AGGREGATE_ID", ""), "aggregate id")
		userID      = flag.String("user-id", getenv("USER_ID", ""), "acting user id")
		payloadJSON = flag.String("payload", getenv("EVENT_PAYLOAD", "{}"), "payload as a JSON object")
		dbURL       = flag.String("database-url", getenv("DATABASE_URL", ""), "postgres connection string")
	)
	flag.Parse()

	eventName := events.Name(*name)
	if !eventName.Valid() {
		fatal(fmt.Sprintf("unknown event name %q", *name))
	}
	if *aggregateID == "" {
		fatal("AGGREGATE_ID is required")
	}
	if *dbURL == "" {
		fatal("DATABASE_URL is required")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
		fatal("payload must be a JSON object: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, *dbURL)
	if err != nil {
		fatal(err.Error())
	}
	defer pool.Close()

	repo := outbox.NewRepository(pool, runtime.NewLogger("event-emit"))
	env := events.Envelope{
		Name:        eventName,
		AggregateID: *aggregateID,
		UserID:      *userID,
		Payload:     payload,
	}
	rec, err := repo.InsertStandalone(ctx, env)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("appended outbox row %d event %s name %s\n", rec.ID, rec.EventID, rec.EventName)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
