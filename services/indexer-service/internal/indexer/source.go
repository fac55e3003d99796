package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/epop-app/eventbus/libs/db"
	"github.com/epop-app/eventbus/services/indexer-service/internal/search"
)

// Source re-reads current entity rows from the system of record. The indexing
// worker always trusts this read over the event payload, so stale or
// out-of-order events are self-correcting.
type Source interface {
	Read(ctx context.Context, entity, id string) (search.Document, bool, error)
	List(ctx context.Context, entity, afterID string, limit int) ([]search.Document, error)
}

type PostgresSource struct {
	pool *db.Pool
}

func NewPostgresSource(pool *db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

var entityQueries = map[string]struct {
	read string
	list string
}{
	"message": {
		read: `SELECT id::text, chat_id::text, '', body, updated_at FROM chat_messages WHERE id::text = $1`,
		list: `SELECT id::text, chat_id::text, '', body, updated_at FROM chat_messages WHERE id::text > $1 ORDER BY id LIMIT $2`,
	},
	"task": {
		read: `SELECT id::text, project_id::text, title, COALESCE(description, ''), updated_at FROM tasks WHERE id::text = $1`,
		list: `SELECT id::text, project_id::text, title, COALESCE(description, ''), updated_at FROM tasks WHERE id::text > $1 ORDER BY id LIMIT $2`,
	},
	"mail": {
		read: `SELECT id::text, folder_id::text, subject, COALESCE(snippet, ''), updated_at FROM mail_messages WHERE id::text = $1`,
		list: `SELECT id::text, folder_id::text, subject, COALESCE(snippet, ''), updated_at FROM mail_messages WHERE id::text > $1 ORDER BY id LIMIT $2`,
	},
}

func (s *PostgresSource) Read(ctx context.Context, entity, id string) (search.Document, bool, error) {
	q, ok := entityQueries[entity]
	if !ok {
		return search.Document{}, false, fmt.Errorf("unknown index entity %q", entity)
	}

	doc := search.Document{Entity: entity}
	err := s.pool.QueryRow(ctx, q.read, id).
		Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Body, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return search.Document{}, false, nil
	}
	if err != nil {
		return search.Document{}, false, err
	}
	return doc, true, nil
}

func (s *PostgresSource) List(ctx context.Context, entity, afterID string, limit int) ([]search.Document, error) {
	q, ok := entityQueries[entity]
	if !ok {
		return nil, fmt.Errorf("unknown index entity %q", entity)
	}

	rows, err := s.pool.Query(ctx, q.list, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []search.Document
	for rows.Next() {
		doc := search.Document{Entity: entity}
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Body, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
