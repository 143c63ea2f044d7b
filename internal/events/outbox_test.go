package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockOutbox(t *testing.T) (pgxmock.PgxPoolIface, *OutboxStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, newOutboxStoreWithExec(mock)
}

func TestOutboxInsert(t *testing.T) {
	mock, store := newMockOutbox(t)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "prac-1", "event.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Insert(context.Background(), "prac-1", "event.v1", map[string]string{"foo": "bar"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOutboxInsertRejectsUnmarshalablePayload(t *testing.T) {
	_, store := newMockOutbox(t)

	if _, err := store.Insert(context.Background(), "prac-1", "event.v1", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestOutboxFetchAndSettle(t *testing.T) {
	mock, store := newMockOutbox(t)

	entryID := uuid.New()
	created := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "practice_id", "type", "payload", "created_at"}).
		AddRow(entryID, "prac-1", "event.v1", []byte(`{"foo":"bar"}`), created)
	mock.ExpectQuery("SELECT id, practice_id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != entryID || entries[0].PracticeID != "prac-1" {
		t.Fatalf("entries = %#v, want the one seeded row", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(entryID, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), entryID)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !ok {
		t.Fatal("first settle reported false")
	}

	// Settling the same entry again hits zero rows.
	mock.ExpectExec("UPDATE outbox").WithArgs(entryID, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = store.MarkDelivered(context.Background(), entryID)
	if err != nil {
		t.Fatalf("repeat MarkDelivered: %v", err)
	}
	if ok {
		t.Fatal("repeat settle reported true")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
