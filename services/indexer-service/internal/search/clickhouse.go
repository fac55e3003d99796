package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Document is one searchable row: a point-in-time snapshot of the entity as
// re-read from the source of truth, never from an event payload.
type Document struct {
	Entity    string
	ID        string
	OwnerID   string
	Title     string
	Body      string
	UpdatedAt time.Time
}

// Index is the sink the indexing workers write into.
type Index interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, entity, id string) error
}

// ClickHouseIndex keeps search_documents in a ReplacingMergeTree keyed by
// (entity, id) with updated_at as the version, so re-indexing the same row is
// a cheap overwrite.
type ClickHouseIndex struct {
	db *sql.DB
}

func NewClickHouseIndex(addr, database string) (*ClickHouseIndex, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return &ClickHouseIndex{db: conn}, nil
}

func (i *ClickHouseIndex) Upsert(ctx context.Context, doc Document) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO search_documents (entity, id, owner_id, title, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.Entity, doc.ID, doc.OwnerID, doc.Title, doc.Body, doc.UpdatedAt)
	return err
}

func (i *ClickHouseIndex) Delete(ctx context.Context, entity, id string) error {
	_, err := i.db.ExecContext(ctx, `
		DELETE FROM search_documents WHERE entity = ? AND id = ?
	`, entity, id)
	return err
}

func (i *ClickHouseIndex) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		return i.db.PingContext(ctx)
	}
}
