package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxEntry is one undelivered event row.
type OutboxEntry struct {
	ID         uuid.UUID
	PracticeID string
	Type       string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type outboxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore reads and settles the outbox table. Writes normally go through
// AppendCanonicalEvent inside the aggregate's transaction; Insert is for
// events raised outside any transaction.
type OutboxStore struct {
	db outboxQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: nil pool")
	}
	return &OutboxStore{db: pool}
}

func newOutboxStoreWithExec(exec outboxQuerier) *OutboxStore {
	if exec == nil {
		panic("events: nil querier")
	}
	return &OutboxStore{db: exec}
}

func (s *OutboxStore) Insert(ctx context.Context, practiceID, eventType string, payload any) (uuid.UUID, error) {
	id := uuid.New()
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: encode outbox payload: %w", err)
	}

	const query = `
		INSERT INTO outbox (id, practice_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, id, practiceID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: queue outbox entry: %w", err)
	}
	return id, nil
}

// FetchPending returns undelivered entries, oldest first. The id tiebreak
// keeps the order stable for entries created in the same transaction.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	const query = `
		SELECT id, practice_id, type, payload, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list pending outbox: %w", err)
	}
	defer rows.Close()

	entries := make([]OutboxEntry, 0, limit)
	for rows.Next() {
		var (
			entry   OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &entry.PracticeID, &entry.Type, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox row: %w", err)
		}
		entry.Payload = payload
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkDelivered settles one entry. The false return means the entry was
// already delivered, which happens when two deliverers race.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `
		UPDATE outbox
		SET delivered_at = $2
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("events: settle outbox entry: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
