package indexer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/epop-app/eventbus/jobs"
	"github.com/epop-app/eventbus/services/indexer-service/internal/search"
)

const backfillPageSize = 500

// Handlers owns the job-side of indexing: re-read the row, write the index.
type Handlers struct {
	source Source
	index  search.Index
	queue  Enqueuer
	logger *slog.Logger
}

func NewHandlers(source Source, index search.Index, queue Enqueuer, logger *slog.Logger) *Handlers {
	return &Handlers{source: source, index: index, queue: queue, logger: logger}
}

// Register wires the handlers onto the indexing worker.
func (h *Handlers) Register(w *jobs.Worker) {
	w.Handle(jobs.TypeIndexDoc, h.IndexDoc)
	w.Handle(jobs.TypeDeleteDoc, h.DeleteDoc)
	w.Handle(jobs.TypeBackfill, h.Backfill)
}

// IndexDoc re-reads the entity from the source of truth at processing time.
// A row that disappeared since the event was emitted is removed from the
// index instead: last write wins by re-read, not by event ordering.
func (h *Handlers) IndexDoc(ctx context.Context, payload []byte) error {
	var p jobs.IndexDocPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	doc, found, err := h.source.Read(ctx, p.Entity, p.ID)
	if err != nil {
		return err
	}
	if !found {
		return h.index.Delete(ctx, p.Entity, p.ID)
	}
	return h.index.Upsert(ctx, doc)
}

func (h *Handlers) DeleteDoc(ctx context.Context, payload []byte) error {
	var p jobs.IndexDocPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return h.index.Delete(ctx, p.Entity, p.ID)
}

// Backfill walks the whole source table in pages and enqueues one index_doc
// per row.
func (h *Handlers) Backfill(ctx context.Context, payload []byte) error {
	var p jobs.BackfillPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	afterID := ""
	total := 0
	for {
		docs, err := h.source.List(ctx, p.Entity, afterID, backfillPageSize)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}
		for _, doc := range docs {
			job := jobs.IndexDocPayload{Entity: p.Entity, ID: doc.ID}
			if err := h.queue.EnqueueDirect(ctx, jobs.QueueIndexing, jobs.TypeIndexDoc, job, maxIndexAttempts); err != nil {
				return err
			}
		}
		total += len(docs)
		afterID = docs[len(docs)-1].ID
	}

	h.logger.Info("backfill enqueued", "entity", p.Entity, "rows", total)
	return nil
}
