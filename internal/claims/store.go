package claims

import (
	"context"
	"encoding/json"
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

// Store persists claims and their transition history in Postgres. Write
// methods take a Querier so the service can group them with event rows and
// outbox appends in one transaction.
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

func textOrNull(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

const claimColumns = `
	id, practice_id, patient_id, provider_id, policy_id, claim_number,
	status, claim_type, service_date, diagnoses, lines, total_cents,
	payer_claim_id, adjudicated_cents, patient_owes_cents, denial_reason,
	submitted_at, adjudicated_at, created_at, updated_at
`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	var providerID, policyID, payerClaimID, denialReason pgtype.Text
	var submittedAt, adjudicatedAt pgtype.Timestamptz
	var lines []byte
	if err := row.Scan(
		&c.ID,
		&c.PracticeID,
		&c.PatientID,
		&providerID,
		&policyID,
		&c.ClaimNumber,
		&c.Status,
		&c.Type,
		&c.ServiceDate,
		&c.Diagnoses,
		&lines,
		&c.TotalCents,
		&payerClaimID,
		&c.AdjudicatedCents,
		&c.PatientOwesCents,
		&denialReason,
		&submittedAt,
		&adjudicatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.ProviderID = providerID.String
	c.PolicyID = policyID.String
	c.PayerClaimID = payerClaimID.String
	c.DenialReason = denialReason.String
	if submittedAt.Valid {
		c.SubmittedAt = submittedAt.Time
	}
	if adjudicatedAt.Valid {
		c.AdjudicatedAt = adjudicatedAt.Time
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &c.Lines); err != nil {
			return nil, fmt.Errorf("claims: decode lines: %w", err)
		}
	}
	if c.Diagnoses == nil {
		c.Diagnoses = []string{}
	}
	if c.Lines == nil {
		c.Lines = []ClaimLine{}
	}
	return &c, nil
}

// Insert writes a new draft claim and fills in the generated timestamps.
func (s *Store) Insert(ctx context.Context, q Querier, c *Claim) error {
	lines, err := json.Marshal(c.Lines)
	if err != nil {
		return fmt.Errorf("claims: encode lines: %w", err)
	}
	query := `
		INSERT INTO claims (
			id, practice_id, patient_id, provider_id, policy_id, claim_number,
			status, claim_type, service_date, diagnoses, lines, total_cents
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err = q.QueryRow(ctx, query,
		c.ID,
		c.PracticeID,
		c.PatientID,
		textOrNull(c.ProviderID),
		textOrNull(c.PolicyID),
		c.ClaimNumber,
		c.Status,
		c.Type,
		c.ServiceDate,
		c.Diagnoses,
		lines,
		c.TotalCents,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("claims: insert claim: %w", err)
	}
	return nil
}

// GetByID fetches a claim scoped to a practice.
func (s *Store) GetByID(ctx context.Context, practiceID, id string) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND practice_id = $2`
	c, err := scanClaim(s.pool.QueryRow(ctx, query, id, practiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("claims: get claim: %w", err)
	}
	return c, nil
}

// GetByNumber resolves a claim from the number echoed back by the
// clearinghouse. Webhooks have no practice context, so this is unscoped.
func (s *Store) GetByNumber(ctx context.Context, claimNumber string) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE claim_number = $1`
	c, err := scanClaim(s.pool.QueryRow(ctx, query, claimNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("claims: get claim by number: %w", err)
	}
	return c, nil
}

// GetForUpdate locks a claim row for a status transition.
func (s *Store) GetForUpdate(ctx context.Context, q Querier, practiceID, id string) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1 AND practice_id = $2 FOR UPDATE`
	c, err := scanClaim(q.QueryRow(ctx, query, id, practiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("claims: lock claim: %w", err)
	}
	return c, nil
}

// List returns a practice's claims, newest first.
func (s *Store) List(ctx context.Context, practiceID string, filter ListFilter) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE practice_id = $1`
	args := []any{practiceID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claims: list claims: %w", err)
	}
	defer rows.Close()

	claims := []*Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("claims: scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims: list claims: %w", err)
	}
	return claims, nil
}

// ListAwaitingRemittance returns claims still waiting on a payer decision,
// oldest submissions first. The remittance poller serves every practice, so
// this is unscoped.
func (s *Store) ListAwaitingRemittance(ctx context.Context, limit int32) ([]*Claim, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + claimColumns + ` FROM claims
		WHERE status = ANY($1) AND payer_claim_id IS NOT NULL
		ORDER BY submitted_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, []string{StatusSubmitted, StatusAccepted}, limit)
	if err != nil {
		return nil, fmt.Errorf("claims: list awaiting remittance: %w", err)
	}
	defer rows.Close()

	claims := []*Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("claims: scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims: list awaiting remittance: %w", err)
	}
	return claims, nil
}

// UpdateDraft rewrites the editable fields of a draft claim.
func (s *Store) UpdateDraft(ctx context.Context, q Querier, c *Claim) error {
	lines, err := json.Marshal(c.Lines)
	if err != nil {
		return fmt.Errorf("claims: encode lines: %w", err)
	}
	query := `
		UPDATE claims
		SET provider_id = $3, policy_id = $4, claim_type = $5, service_date = $6,
		    diagnoses = $7, lines = $8, total_cents = $9, updated_at = now()
		WHERE id = $1 AND practice_id = $2
		RETURNING updated_at
	`
	err = q.QueryRow(ctx, query,
		c.ID,
		c.PracticeID,
		textOrNull(c.ProviderID),
		textOrNull(c.PolicyID),
		c.Type,
		c.ServiceDate,
		c.Diagnoses,
		lines,
		c.TotalCents,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrClaimNotFound
		}
		return fmt.Errorf("claims: update draft: %w", err)
	}
	return nil
}

// SetStatus moves a claim to a status that carries no extra columns.
func (s *Store) SetStatus(ctx context.Context, q Querier, practiceID, id, status string) error {
	tag, err := q.Exec(ctx, `
		UPDATE claims
		SET status = $3, updated_at = now()
		WHERE id = $1 AND practice_id = $2`,
		id, practiceID, status)
	if err != nil {
		return fmt.Errorf("claims: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// MarkSubmitted records a successful clearinghouse hand-off.
func (s *Store) MarkSubmitted(ctx context.Context, q Querier, practiceID, id, payerClaimID string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE claims
		SET status = $3, payer_claim_id = $4, submitted_at = $5, updated_at = now()
		WHERE id = $1 AND practice_id = $2`,
		id, practiceID, StatusSubmitted, textOrNull(payerClaimID), at)
	if err != nil {
		return fmt.Errorf("claims: mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// MarkAdjudicated records a payer decision and its amounts.
func (s *Store) MarkAdjudicated(ctx context.Context, q Querier, practiceID, id, status string, adjudicatedCents, patientOwesCents int64, denialReason string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE claims
		SET status = $3, adjudicated_cents = $4, patient_owes_cents = $5,
		    denial_reason = $6, adjudicated_at = $7, updated_at = now()
		WHERE id = $1 AND practice_id = $2`,
		id, practiceID, status, adjudicatedCents, patientOwesCents, textOrNull(denialReason), at)
	if err != nil {
		return fmt.Errorf("claims: mark adjudicated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// InsertEvent appends one transition to the claim history.
func (s *Store) InsertEvent(ctx context.Context, q Querier, ev *ClaimEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO claim_events (id, claim_id, practice_id, actor, from_status, to_status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.ClaimID, ev.PracticeID, ev.Actor, textOrNull(ev.FromStatus), ev.ToStatus, textOrNull(ev.Note))
	if err != nil {
		return fmt.Errorf("claims: insert event: %w", err)
	}
	return nil
}

// ListEvents returns a claim's transition history, oldest first.
func (s *Store) ListEvents(ctx context.Context, practiceID, claimID string) ([]ClaimEvent, error) {
	query := `
		SELECT id, claim_id, actor, from_status, to_status, note, created_at
		FROM claim_events
		WHERE claim_id = $1 AND practice_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, claimID, practiceID)
	if err != nil {
		return nil, fmt.Errorf("claims: list events: %w", err)
	}
	defer rows.Close()

	events := []ClaimEvent{}
	for rows.Next() {
		var ev ClaimEvent
		var fromStatus, note pgtype.Text
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.Actor, &fromStatus, &ev.ToStatus, &note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("claims: scan event: %w", err)
		}
		ev.FromStatus = fromStatus.String
		ev.Note = note.String
		ev.PracticeID = practiceID
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims: list events: %w", err)
	}
	return events, nil
}
