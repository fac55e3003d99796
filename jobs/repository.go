package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/epop-app/eventbus/libs/db"
	otelx "github.com/epop-app/eventbus/libs/otel"
)

// claimLease is how long a fetched job stays invisible to other workers
// before it becomes due again. A worker that dies mid-job forfeits its claim.
const claimLease = time.Minute

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Enqueue inserts a job inside the caller's transaction.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, queue string, jobType string, payload any, maxAttempts int) error {
	return r.enqueue(ctx, tx, queue, jobType, payload, maxAttempts)
}

// EnqueueDirect inserts a job outside any caller transaction.
func (r *Repository) EnqueueDirect(ctx context.Context, queue string, jobType string, payload any, maxAttempts int) error {
	return r.enqueue(ctx, r.pool, queue, jobType, payload, maxAttempts)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *Repository) enqueue(ctx context.Context, q execer, queue string, jobType string, payload any, maxAttempts int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = q.Exec(ctx, `
		INSERT INTO jobs (queue, job_type, payload, run_at, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, now(), $4, $5, $6)
	`, queue, jobType, body, maxAttempts, traceparent, tracestate)
	return err
}

// FetchDue claims up to limit due jobs on one queue. Claimed jobs are pushed
// forward by the lease interval so concurrent workers skip them.
func (r *Repository) FetchDue(ctx context.Context, queue string, limit int) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs
		SET run_at = now() + $3::interval
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND run_at <= now()
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, job_type, payload, run_at, attempts, max_attempts, COALESCE(last_error, ''), traceparent, tracestate, created_at
	`, queue, limit, claimLease.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Queue, &j.Type, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.Traceparent, &j.Tracestate, &j.CreatedAt); err != nil {
			return nil, err
		}
		due = append(due, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return due, nil
}

// Complete removes a finished job.
func (r *Repository) Complete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

// Retry reschedules a failed job with its error recorded.
func (r *Repository) Retry(ctx context.Context, id int64, attempts int, runAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET attempts = $2, run_at = $3, last_error = $4
		WHERE id = $1
	`, id, attempts, runAt, lastError)
	return err
}

// DeadLetter moves an exhausted job to the dead-letter table.
func (r *Repository) DeadLetter(ctx context.Context, job Job, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO dead_letter_jobs (queue, job_type, payload, reason)
		VALUES ($1, $2, $3, $4)
	`, job.Queue, job.Type, job.Payload, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
