package notifier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/epop-app/eventbus/libs/db"
)

// PostgresDirectory resolves participants and preferences from the system of
// record. A user with no preferences row defaults to email disabled.
type PostgresDirectory struct {
	pool *db.Pool
}

func NewPostgresDirectory(pool *db.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) ChatParticipants(ctx context.Context, chatID string) ([]Participant, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT u.id::text, COALESCE(u.email, ''), COALESCE(p.email_enabled, false)
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		LEFT JOIN notification_preferences p ON p.user_id = u.id
		WHERE cp.chat_id::text = $1
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Email, &p.EmailEnabled); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (d *PostgresDirectory) User(ctx context.Context, userID string) (Participant, bool, error) {
	var p Participant
	err := d.pool.QueryRow(ctx, `
		SELECT u.id::text, COALESCE(u.email, ''), COALESCE(pref.email_enabled, false)
		FROM users u
		LEFT JOIN notification_preferences pref ON pref.user_id = u.id
		WHERE u.id::text = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.EmailEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, false, nil
	}
	if err != nil {
		return Participant{}, false, err
	}
	return p, true, nil
}
