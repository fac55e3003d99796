package outbox

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/epop-app/eventbus/events"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.scan(dest...)
}

// fakeTx records the statements a repository call issues. Methods the
// repository must not reach stay unimplemented on the embedded interface.
type fakeTx struct {
	pgx.Tx
	execSQL  []string
	execArgs [][]any
	querySQL []string
	row      fakeRow
	rows     *fakeRows
	commits  int
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	t.execArgs = append(t.execArgs, args)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.querySQL = append(t.querySQL, sql)
	t.execArgs = append(t.execArgs, args)
	return t.row
}

func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.querySQL = append(t.querySQL, sql)
	t.execArgs = append(t.execArgs, args)
	return t.rows, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.commits++
	return nil
}

type fakeRows struct {
	pgx.Rows
	records []Record
	idx     int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.records)
}

func (r *fakeRows) Scan(dest ...any) error {
	src := r.records[r.idx-1]
	*dest[0].(*int64) = src.ID
	*dest[1].(*uuid.UUID) = src.EventID
	*dest[2].(*events.Name) = src.EventName
	*dest[3].(*string) = src.AggregateType
	*dest[4].(*string) = src.AggregateID
	*dest[5].(*string) = src.UserID
	*dest[6].(*[]byte) = src.Payload
	*dest[7].(*string) = src.Traceparent
	*dest[8].(*string) = src.Tracestate
	*dest[9].(*time.Time) = src.CreatedAt
	*dest[10].(**time.Time) = src.DeliveredAt
	return nil
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return nil }

func testRepository() *Repository {
	return NewRepository(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInsertRejectsInvalidEnvelopeBeforeSQL(t *testing.T) {
	repo := testRepository()
	tx := &fakeTx{}

	_, err := repo.Insert(context.Background(), tx, events.Envelope{
		Name:        events.Name("chat.message.invented"),
		AggregateID: "7",
	})
	if err == nil {
		t.Fatal("expected an unknown event name to be rejected")
	}
	if len(tx.querySQL) != 0 || len(tx.execSQL) != 0 {
		t.Fatal("a rejected envelope must not reach the database")
	}

	_, err = repo.Insert(context.Background(), tx, events.Envelope{Name: events.ChatMessageCreated})
	if err == nil {
		t.Fatal("expected a missing aggregate id to be rejected")
	}
	if len(tx.querySQL) != 0 {
		t.Fatal("a rejected envelope must not reach the database")
	}
}

func TestInsertUsesCallerTransaction(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	tx := &fakeTx{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int64) = 41
		*dest[1].(*time.Time) = created
		return nil
	}}}
	repo := testRepository()

	rcd, err := repo.Insert(context.Background(), tx, events.Envelope{
		Name:        events.ChatMessageCreated,
		AggregateID: "msg-7",
		UserID:      "u1",
		Payload:     map[string]any{"chatId": "3"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if len(tx.querySQL) != 1 || !strings.Contains(tx.querySQL[0], "INSERT INTO outbox_events") {
		t.Fatalf("unexpected statements: %v", tx.querySQL)
	}
	// Commit belongs to the caller's unit of work, never to Insert.
	if tx.commits != 0 {
		t.Fatalf("insert committed the caller's transaction %d times", tx.commits)
	}
	if rcd.ID != 41 || !rcd.CreatedAt.Equal(created) {
		t.Fatalf("record not filled from returning clause: %+v", rcd)
	}
	if rcd.EventName != events.ChatMessageCreated || rcd.AggregateType != "message" {
		t.Fatalf("record missing normalized metadata: %+v", rcd)
	}
}

func TestFetchUndeliveredLocksAndOrders(t *testing.T) {
	want := Record{
		ID:            12,
		EventID:       uuid.New(),
		EventName:     events.ChatMessageCreated,
		AggregateType: "message",
		AggregateID:   "msg-1",
		Payload:       []byte(`{"chatId":"3"}`),
		CreatedAt:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	tx := &fakeTx{rows: &fakeRows{records: []Record{want}}}
	repo := testRepository()

	records, err := repo.FetchUndelivered(context.Background(), tx, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 || records[0].ID != want.ID || records[0].EventName != want.EventName {
		t.Fatalf("unexpected records: %+v", records)
	}

	sql := tx.querySQL[0]
	for _, clause := range []string{"delivered_at IS NULL", "ORDER BY id", "FOR UPDATE SKIP LOCKED"} {
		if !strings.Contains(sql, clause) {
			t.Fatalf("fetch query missing %q: %s", clause, sql)
		}
	}
	if tx.execArgs[0][0] != 50 {
		t.Fatalf("limit not passed through: %v", tx.execArgs[0])
	}
}

func TestMarkDeliveredStampsOnlyUndeliveredRows(t *testing.T) {
	tx := &fakeTx{}
	repo := testRepository()

	ids := []int64{3, 5, 8}
	if err := repo.MarkDelivered(context.Background(), tx, ids); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if len(tx.execSQL) != 1 {
		t.Fatalf("expected one update, got %d", len(tx.execSQL))
	}
	sql := tx.execSQL[0]
	if !strings.Contains(sql, "delivered_at IS NULL") {
		t.Fatalf("update must leave already-delivered stamps alone: %s", sql)
	}
	if !strings.Contains(sql, "id = ANY($1)") {
		t.Fatalf("update must address the whole batch: %s", sql)
	}
	if got := tx.execArgs[0][0].([]int64); len(got) != 3 || got[0] != 3 {
		t.Fatalf("unexpected args: %v", tx.execArgs[0])
	}
}

func TestMarkDeliveredEmptyBatchIsNoOp(t *testing.T) {
	tx := &fakeTx{}
	repo := testRepository()

	if err := repo.MarkDelivered(context.Background(), tx, nil); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if len(tx.execSQL) != 0 {
		t.Fatal("empty batch must not touch the database")
	}
	// MarkBatch short-circuits too; with a nil pool it would panic if it
	// opened a transaction.
	if err := repo.MarkBatch(context.Background(), nil); err != nil {
		t.Fatalf("mark batch: %v", err)
	}
}
