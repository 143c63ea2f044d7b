package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is implemented by every versioned domain event payload.
// EventType returns the dotted, versioned name consumers dispatch on.
type CanonicalEvent interface {
	EventType() string
}

// execer is satisfied by pgx pools and open transactions alike.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Envelope wraps a canonical event with delivery metadata. The serialized
// envelope is what lands in the outbox payload column and what consumers
// decode on the other side. PracticeID travels inside the envelope so a
// consumer never has to join back to the outbox row to learn the tenant.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	PracticeID      string          `json:"practice_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	TimestampMicros int64           `json:"timestamp_micros"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption adjusts an envelope before it is written.
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id. A nil id is
// ignored so callers can pass through an optional override unconditionally.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id == uuid.Nil {
			return
		}
		e.EventID = id
	}
}

// WithTimestamp pins the envelope timestamp instead of reading the clock.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.TimestampMicros = ts.UTC().UnixMicro()
		}
	}
}

// nowFunc is swapped by tests that need deterministic envelope timestamps.
var nowFunc = time.Now

// AppendCanonicalEvent builds the envelope and writes it to the outbox
// through the provided executor. Pass the open transaction so the event
// commits atomically with the aggregate write it describes.
func AppendCanonicalEvent(ctx context.Context, exec execer, practiceID, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	env, err := newEnvelope(practiceID, aggregate, correlationID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	if err := insertOutbox(ctx, exec, env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func newEnvelope(practiceID, aggregate, correlationID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	practiceID = strings.TrimSpace(practiceID)
	aggregate = strings.TrimSpace(aggregate)
	correlationID = strings.TrimSpace(correlationID)
	switch {
	case practiceID == "":
		return Envelope{}, errors.New("events: practice id is required")
	case aggregate == "":
		return Envelope{}, errors.New("events: aggregate is required")
	case evt == nil:
		return Envelope{}, errors.New("events: canonical event required")
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errors.New("events: event type missing")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode canonical payload: %w", err)
	}

	env := Envelope{
		EventID:         uuid.New(),
		PracticeID:      practiceID,
		EventType:       eventType,
		Aggregate:       aggregate,
		CorrelationID:   correlationID,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		Payload:         payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

func insertOutbox(ctx context.Context, exec execer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	const query = `
		INSERT INTO outbox (id, practice_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.PracticeID, env.EventType, data); err != nil {
		return fmt.Errorf("events: append canonical event: %w", err)
	}
	return nil
}
