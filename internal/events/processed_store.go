package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// processedQuerier is the slice of pgx used by the dedupe ledger. Satisfied
// by pools, transactions, and the pgxmock pool in tests.
type processedQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore is the dedupe ledger for inbound webhook events. Providers
// redeliver on timeouts, so consumers check here before acting and record
// the event id once they are done.
type ProcessedStore struct {
	db processedQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: nil pool")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(exec processedQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: nil querier")
	}
	return &ProcessedStore{db: exec}
}

// AlreadyProcessed reports whether this provider event id was handled before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`
	var seen bool
	if err := s.db.QueryRow(ctx, query, provider, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("events: lookup processed event: %w", err)
	}
	return seen, nil
}

// MarkProcessed records the event id. A false return means another consumer
// recorded it first; callers treat that the same as AlreadyProcessed.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	const query = `
		INSERT INTO processed_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, provider, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("events: record processed event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
