package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists appointments in Postgres. Write methods take a Querier so
// the service can group them with outbox appends in one transaction.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const appointmentColumns = `
	id, practice_id, patient_id, provider_id, status, starts_at, ends_at,
	minutes_duration, service_code, description, reason, note,
	patient_instruction, cancel_reason, created_at, updated_at
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var serviceCode, description, reason, note, instruction, cancelReason pgtype.Text
	if err := row.Scan(
		&a.ID,
		&a.PracticeID,
		&a.PatientID,
		&a.ProviderID,
		&a.Status,
		&a.StartTime,
		&a.EndTime,
		&a.MinutesDuration,
		&serviceCode,
		&description,
		&reason,
		&note,
		&instruction,
		&cancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.ServiceCode = serviceCode.String
	a.Description = description.String
	a.Reason = reason.String
	a.Note = note.String
	a.PatientInstruction = instruction.String
	a.CancelReason = cancelReason.String
	return &a, nil
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// Insert writes a new appointment row.
func (s *Store) Insert(ctx context.Context, q Querier, a *Appointment) error {
	if q == nil {
		return fmt.Errorf("scheduling: querier required")
	}
	err := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, practice_id, patient_id, provider_id, status, starts_at, ends_at,
			minutes_duration, service_code, description, reason, note,
			patient_instruction
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		a.ID, a.PracticeID, a.PatientID, a.ProviderID, a.Status,
		a.StartTime, a.EndTime, a.MinutesDuration,
		textOrNull(a.ServiceCode), textOrNull(a.Description), textOrNull(a.Reason),
		textOrNull(a.Note), textOrNull(a.PatientInstruction),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	return nil
}

// HasProviderOverlap reports whether the provider already holds an active
// visit intersecting [start, end). excludeID skips the appointment being
// rescheduled; pass "" for new bookings.
func (s *Store) HasProviderOverlap(ctx context.Context, q Querier, practiceID, providerID string, start, end time.Time, excludeID string) (bool, error) {
	if q == nil {
		return false, fmt.Errorf("scheduling: querier required")
	}
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE practice_id = $1
			  AND provider_id = $2
			  AND status IN ('booked', 'checked_in')
			  AND starts_at < $4
			  AND ends_at > $3
			  AND id <> $5
		)`, practiceID, providerID, start, end, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("scheduling: check overlap: %w", err)
	}
	return exists, nil
}

// GetByID loads an appointment scoped to the practice.
func (s *Store) GetByID(ctx context.Context, practiceID, id string) (*Appointment, error) {
	return s.get(ctx, s.pool, practiceID, id, false)
}

// GetForUpdate loads an appointment with a row lock, for transition checks
// inside a transaction.
func (s *Store) GetForUpdate(ctx context.Context, q Querier, practiceID, id string) (*Appointment, error) {
	return s.get(ctx, q, practiceID, id, true)
}

func (s *Store) get(ctx context.Context, q Querier, practiceID, id string, forUpdate bool) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 AND practice_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAppointment(q.QueryRow(ctx, query, id, practiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	return a, nil
}

// UpdateWindow moves an appointment to a new start/end.
func (s *Store) UpdateWindow(ctx context.Context, q Querier, practiceID, id string, start, end time.Time, minutes int) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET starts_at = $3, ends_at = $4, minutes_duration = $5, updated_at = now()
		WHERE id = $1 AND practice_id = $2`,
		id, practiceID, start, end, minutes)
	if err != nil {
		return fmt.Errorf("scheduling: update window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// UpdateStatus records a status transition. cancelReason is only stored for
// cancellations.
func (s *Store) UpdateStatus(ctx context.Context, q Querier, practiceID, id, status, cancelReason string) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $3, cancel_reason = $4, updated_at = now()
		WHERE id = $1 AND practice_id = $2`,
		id, practiceID, status, textOrNull(cancelReason))
	if err != nil {
		return fmt.Errorf("scheduling: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// List returns appointments matching the filter, ordered by start time.
func (s *Store) List(ctx context.Context, practiceID string, filter ListFilter) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE practice_id = $1`
	args := []any{practiceID}

	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		query += fmt.Sprintf(" AND provider_id = $%d", len(args))
	}
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND starts_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND starts_at < $%d", len(args))
	}

	query += " ORDER BY starts_at"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: iterate appointments: %w", err)
	}
	if out == nil {
		out = []Appointment{}
	}
	return out, nil
}

// ListProviderDay returns the provider's active visits intersecting a day,
// used for availability math.
func (s *Store) ListProviderDay(ctx context.Context, practiceID, providerID string, dayStart, dayEnd time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practice_id = $1
		  AND provider_id = $2
		  AND status IN ('booked', 'checked_in')
		  AND starts_at < $4
		  AND ends_at > $3
		ORDER BY starts_at`,
		practiceID, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list provider day: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: iterate provider day: %w", err)
	}
	return out, nil
}
