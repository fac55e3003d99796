package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/epop-app/eventbus/events"
	"github.com/epop-app/eventbus/libs/db"
	"github.com/epop-app/eventbus/libs/metrics"
	otelx "github.com/epop-app/eventbus/libs/otel"
)

type Repository struct {
	pool   *db.Pool
	logger *slog.Logger
}

func NewRepository(pool *db.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

// Insert records an event inside the caller's transaction: the event is
// durable if and only if the caller's business mutation commits. Any
// persistence error propagates to the caller unchanged.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, env events.Envelope) (Record, error) {
	env.Normalize(time.Now())
	if err := env.Validate(); err != nil {
		return Record{}, err
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Record{}, err
	}

	traceparent, tracestate := otelx.TraceContextStrings(ctx)

	rcd := Record{
		EventID:       env.ID,
		EventName:     env.Name,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		UserID:        env.UserID,
		Payload:       payload,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO outbox_events (event_id, event_name, aggregate_type, aggregate_id, user_id, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		RETURNING id, created_at
	`, env.ID, env.Name, env.AggregateType, env.AggregateID, env.UserID, payload, traceparent, tracestate).
		Scan(&rcd.ID, &rcd.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rcd, nil
}

// InsertStandalone records an event in its own implicit transaction. The
// business write and the event write are not atomic on this path; it exists
// for callers with no unit of work of their own and is surfaced in logs and
// metrics rather than hidden.
func (r *Repository) InsertStandalone(ctx context.Context, env events.Envelope) (Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rcd, err := r.Insert(ctx, tx, env)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}

	metrics.UntransactionalAppends.Inc()
	r.logger.Warn("outbox append outside caller transaction",
		"event_name", env.Name,
		"aggregate_id", env.AggregateID,
	)
	return rcd, nil
}

// FetchUndelivered returns up to limit undelivered rows in global-sequence
// order. SKIP LOCKED keeps concurrent relay instances off each other's batch.
func (r *Repository) FetchUndelivered(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_name, aggregate_type, aggregate_id, COALESCE(user_id, ''), payload, traceparent, tracestate, created_at, delivered_at
		FROM outbox_events
		WHERE delivered_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.EventName, &rcd.AggregateType, &rcd.AggregateID, &rcd.UserID, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt, &rcd.DeliveredAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkDelivered stamps delivered_at for the given ids. Already-delivered rows
// keep their original stamp, so a duplicate mark is a no-op.
func (r *Repository) MarkDelivered(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET delivered_at = now()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`, ids)
	return err
}

// FetchBatch is the relay-facing read: one short transaction around the
// locked fetch. Concurrent relay instances skip each other's rows while the
// transaction is open; a row published twice across ticks is tolerated
// because delivery is at-least-once and the mark is idempotent.
func (r *Repository) FetchBatch(ctx context.Context, limit int) ([]Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.FetchUndelivered(ctx, tx, limit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkBatch stamps delivered_at for the given ids in its own transaction.
func (r *Repository) MarkBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.MarkDelivered(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Backlog counts undelivered rows, for the lag gauge.
func (r *Repository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM outbox_events WHERE delivered_at IS NULL
	`).Scan(&n)
	return n, err
}

// DeleteDeliveredBefore reaps delivered rows older than cutoff. Undelivered
// rows are never reaped regardless of age.
func (r *Repository) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE delivered_at IS NOT NULL AND delivered_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
