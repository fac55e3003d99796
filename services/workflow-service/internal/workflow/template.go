package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/epop-app/eventbus/libs/db"
)

// Directory resolves template placeholders to real addresses;
// *PostgresDirectory implements it.
type Directory interface {
	TaskAssigneeEmails(ctx context.Context, taskID string) ([]string, error)
	UserEmail(ctx context.Context, userID string) (string, error)
}

// EventScope is the slice of the triggering event a template can reference.
type EventScope struct {
	TaskID  string
	ActorID string
}

// ResolveRecipients expands a recipient expression into concrete addresses.
// The expression is a comma-separated list of literal addresses and
// placeholders ({{task.assignees}}, {{actor}}). Resolving to zero addresses
// is an error: a send_email action with nobody to mail is a broken run, not
// a silent success.
func ResolveRecipients(ctx context.Context, dir Directory, expr string, scope EventScope) ([]string, error) {
	var out []string
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "{{task.assignees}}":
			if scope.TaskID == "" {
				return nil, fmt.Errorf("task.assignees referenced but event has no task id")
			}
			emails, err := dir.TaskAssigneeEmails(ctx, scope.TaskID)
			if err != nil {
				return nil, err
			}
			out = append(out, emails...)
		case "{{actor}}":
			if scope.ActorID == "" {
				return nil, fmt.Errorf("actor referenced but event has no actor")
			}
			email, err := dir.UserEmail(ctx, scope.ActorID)
			if err != nil {
				return nil, err
			}
			if email != "" {
				out = append(out, email)
			}
		default:
			if strings.Contains(part, "{{") {
				return nil, fmt.Errorf("unknown placeholder %q", part)
			}
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("recipient expression %q resolved to no addresses", expr)
	}
	return out, nil
}

type PostgresDirectory struct {
	pool *db.Pool
}

func NewPostgresDirectory(pool *db.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) TaskAssigneeEmails(ctx context.Context, taskID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT u.email
		FROM task_assignees ta
		JOIN users u ON u.id = ta.user_id
		WHERE ta.task_id = $1 AND u.email IS NOT NULL AND u.email <> ''
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (d *PostgresDirectory) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, `
		SELECT COALESCE(email, '') FROM users WHERE id = $1
	`, userID).Scan(&email)
	if err != nil {
		return "", err
	}
	return email, nil
}
