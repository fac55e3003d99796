package workflow

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/epop-app/eventbus/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListDefinitions(ctx context.Context) ([]Definition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, active, trigger, actions, created_at
		FROM workflow_definitions
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var (
			d       Definition
			trigger []byte
			actions []byte
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Active, &trigger, &actions, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trigger, &d.Trigger); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(actions, &d.Actions); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// CreateRun inserts a queued run for this workflow and event. The unique
// (workflow_id, event_id) index makes redelivered events a no-op; created
// is false when the run already exists.
func (r *Repository) CreateRun(ctx context.Context, workflowID int64, eventID string) (string, bool, error) {
	runID := uuid.NewString()
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, event_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, event_id) DO NOTHING
	`, runID, workflowID, eventID, RunQueued)
	if err != nil {
		return "", false, err
	}
	if tag.RowsAffected() == 0 {
		return "", false, nil
	}
	return runID, true, nil
}

func (r *Repository) StartRun(ctx context.Context, runID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $2, started_at = now()
		WHERE id = $1
	`, runID, RunRunning)
	return err
}

func (r *Repository) CompleteRun(ctx context.Context, runID string, output any) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $2, output = $3, finished_at = now()
		WHERE id = $1
	`, runID, RunCompleted, raw)
	return err
}

func (r *Repository) FailRun(ctx context.Context, runID string, runErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $2, error = $3, finished_at = now()
		WHERE id = $1
	`, runID, RunFailed, runErr)
	return err
}

// DeadLetter keeps the triggering event alongside the error so a failed
// automation can be replayed by hand.
func (r *Repository) DeadLetter(ctx context.Context, workflowID int64, event []byte, runErr string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_dead_letters (workflow_id, event, error)
		VALUES ($1, $2, $3)
	`, workflowID, event, runErr)
	return err
}
