package insurance

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

// Store persists policies and verification results in Postgres.
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
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func timeOrNull(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

const policyColumns = `
	id, practice_id, patient_id, payer_id, payer_name, member_id, group_number,
	plan_name, plan_type, relationship, subscriber_name, coverage_order,
	effective_date, expiration_date, status, created_at, updated_at
`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	var payerName, groupNumber, planName, relationship, subscriberName pgtype.Text
	var effective, expiration pgtype.Timestamptz
	if err := row.Scan(
		&p.ID,
		&p.PracticeID,
		&p.PatientID,
		&p.PayerID,
		&payerName,
		&p.MemberID,
		&groupNumber,
		&planName,
		&p.PlanType,
		&relationship,
		&subscriberName,
		&p.CoverageOrder,
		&effective,
		&expiration,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.PayerName = payerName.String
	p.GroupNumber = groupNumber.String
	p.PlanName = planName.String
	p.Relationship = relationship.String
	p.SubscriberName = subscriberName.String
	p.EffectiveDate = effective.Time
	p.ExpirationDate = expiration.Time
	return &p, nil
}

// CreatePolicy writes a new policy row.
func (s *Store) CreatePolicy(ctx context.Context, p *Policy) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO insurance_policies (
			id, practice_id, patient_id, payer_id, payer_name, member_id,
			group_number, plan_name, plan_type, relationship, subscriber_name,
			coverage_order, effective_date, expiration_date, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		p.ID, p.PracticeID, p.PatientID, p.PayerID, textOrNull(p.PayerName),
		p.MemberID, textOrNull(p.GroupNumber), textOrNull(p.PlanName), p.PlanType,
		textOrNull(p.Relationship), textOrNull(p.SubscriberName), p.CoverageOrder,
		timeOrNull(p.EffectiveDate), timeOrNull(p.ExpirationDate), p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insurance: create policy: %w", err)
	}
	return nil
}

// GetPolicy loads a policy scoped to the practice.
func (s *Store) GetPolicy(ctx context.Context, practiceID, id string) (*Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM insurance_policies WHERE id = $1 AND practice_id = $2`,
		id, practiceID)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insurance: get policy: %w", err)
	}
	return p, nil
}

// ListPoliciesByPatient returns the patient's policies ordered by coverage
// position, primary first.
func (s *Store) ListPoliciesByPatient(ctx context.Context, practiceID, patientID string) ([]Policy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+policyColumns+`
		FROM insurance_policies
		WHERE practice_id = $1 AND patient_id = $2
		ORDER BY coverage_order, created_at`,
		practiceID, patientID)
	if err != nil {
		return nil, fmt.Errorf("insurance: list policies: %w", err)
	}
	defer rows.Close()

	out := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("insurance: scan policy: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insurance: iterate policies: %w", err)
	}
	return out, nil
}

// UpdatePolicy writes the full policy row back.
func (s *Store) UpdatePolicy(ctx context.Context, p *Policy) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE insurance_policies
		SET payer_name = $3, member_id = $4, group_number = $5, plan_name = $6,
		    plan_type = $7, relationship = $8, subscriber_name = $9,
		    coverage_order = $10, effective_date = $11, expiration_date = $12,
		    status = $13, updated_at = now()
		WHERE id = $1 AND practice_id = $2
		RETURNING updated_at`,
		p.ID, p.PracticeID, textOrNull(p.PayerName), p.MemberID,
		textOrNull(p.GroupNumber), textOrNull(p.PlanName), p.PlanType,
		textOrNull(p.Relationship), textOrNull(p.SubscriberName), p.CoverageOrder,
		timeOrNull(p.EffectiveDate), timeOrNull(p.ExpirationDate), p.Status,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPolicyNotFound
	}
	if err != nil {
		return fmt.Errorf("insurance: update policy: %w", err)
	}
	return nil
}

const verificationColumns = `
	id, practice_id, policy_id, patient_id, status, payer_name, plan_name,
	copay_cents, coinsurance_pct, deductible_cents, deductible_met_cents,
	oop_max_cents, oop_met_cents, checked_at, expires_at, raw_response, source
`

func scanVerification(row pgx.Row) (*Verification, error) {
	var v Verification
	var payerName, planName pgtype.Text
	var raw []byte
	if err := row.Scan(
		&v.ID,
		&v.PracticeID,
		&v.PolicyID,
		&v.PatientID,
		&v.Status,
		&payerName,
		&planName,
		&v.CopayCents,
		&v.CoinsurancePct,
		&v.DeductibleCents,
		&v.DeductibleMetCents,
		&v.OutOfPocketMaxCents,
		&v.OutOfPocketMetCents,
		&v.CheckedAt,
		&v.ExpiresAt,
		&raw,
		&v.Source,
	); err != nil {
		return nil, err
	}
	v.PayerName = payerName.String
	v.PlanName = planName.String
	if len(raw) > 0 {
		v.RawResponse = append([]byte(nil), raw...)
	}
	return &v, nil
}

// InsertVerification writes a verification result. It takes a Querier so the
// verifier can commit the row with its outbox event.
func (s *Store) InsertVerification(ctx context.Context, q Querier, v *Verification) error {
	if q == nil {
		return fmt.Errorf("insurance: querier required")
	}
	_, err := q.Exec(ctx, `
		INSERT INTO insurance_verifications (
			id, practice_id, policy_id, patient_id, status, payer_name, plan_name,
			copay_cents, coinsurance_pct, deductible_cents, deductible_met_cents,
			oop_max_cents, oop_met_cents, checked_at, expires_at, raw_response, source
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		v.ID, v.PracticeID, v.PolicyID, v.PatientID, v.Status,
		textOrNull(v.PayerName), textOrNull(v.PlanName),
		v.CopayCents, v.CoinsurancePct, v.DeductibleCents, v.DeductibleMetCents,
		v.OutOfPocketMaxCents, v.OutOfPocketMetCents, v.CheckedAt, v.ExpiresAt,
		v.RawResponse, v.Source,
	)
	if err != nil {
		return fmt.Errorf("insurance: insert verification: %w", err)
	}
	return nil
}

// GetVerification loads one verification scoped to the practice.
func (s *Store) GetVerification(ctx context.Context, practiceID, id string) (*Verification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+verificationColumns+` FROM insurance_verifications WHERE id = $1 AND practice_id = $2`,
		id, practiceID)
	v, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insurance: get verification: %w", err)
	}
	return v, nil
}

// ListVerificationsByPatient returns recent checks for a patient, newest
// first.
func (s *Store) ListVerificationsByPatient(ctx context.Context, practiceID, patientID string, limit int) ([]Verification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+verificationColumns+`
		FROM insurance_verifications
		WHERE practice_id = $1 AND patient_id = $2
		ORDER BY checked_at DESC
		LIMIT $3`,
		practiceID, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("insurance: list verifications: %w", err)
	}
	defer rows.Close()

	out := []Verification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("insurance: scan verification: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insurance: iterate verifications: %w", err)
	}
	return out, nil
}

// LatestVerificationForPolicy returns the most recent check for a policy, or
// ErrVerificationNotFound when the policy has never been checked.
func (s *Store) LatestVerificationForPolicy(ctx context.Context, practiceID, policyID string) (*Verification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+verificationColumns+`
		FROM insurance_verifications
		WHERE practice_id = $1 AND policy_id = $2
		ORDER BY checked_at DESC
		LIMIT 1`,
		practiceID, policyID)
	v, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insurance: latest verification: %w", err)
	}
	return v, nil
}
