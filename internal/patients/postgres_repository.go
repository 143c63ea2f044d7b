package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores patients in the relational database.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const patientColumns = `
	id, practice_id, mrn, first_name, last_name, dob, sex, email, phone,
	address_line1, address_line2, city, state, postal_code,
	allergies, tags, status, created_at, updated_at
`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var sex, email, phone, addr1, addr2, city, state, postal pgtype.Text
	if err := row.Scan(
		&p.ID,
		&p.PracticeID,
		&p.MRN,
		&p.FirstName,
		&p.LastName,
		&p.DOB,
		&sex,
		&email,
		&phone,
		&addr1,
		&addr2,
		&city,
		&state,
		&postal,
		&p.Allergies,
		&p.Tags,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Sex = sex.String
	p.Email = email.String
	p.Phone = phone.String
	p.AddressLine1 = addr1.String
	p.AddressLine2 = addr2.String
	p.City = city.String
	p.State = state.String
	p.PostalCode = postal.String
	return &p, nil
}

// Create inserts a new row, generating an MRN when the request omits one.
func (r *PostgresRepository) Create(ctx context.Context, req *CreatePatientRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	mrn := req.MRN
	if mrn == "" {
		mrn = NewMRN()
	}

	id := uuid.New()
	query := `
		INSERT INTO patients (
			id, practice_id, mrn, first_name, last_name, dob, sex, email, phone,
			address_line1, address_line2, city, state, postal_code, allergies, tags, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.PracticeID,
		mrn,
		req.FirstName,
		req.LastName,
		req.DOB,
		textOrNull(req.Sex),
		textOrNull(req.Email),
		textOrNull(req.Phone),
		textOrNull(req.AddressLine1),
		textOrNull(req.AddressLine2),
		textOrNull(req.City),
		textOrNull(req.State),
		textOrNull(req.PostalCode),
		req.Allergies,
		req.Tags,
		StatusActive,
	).Scan(&createdAt, &updatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateMRN
		}
		return nil, fmt.Errorf("patients: insert failed: %w", err)
	}

	return &Patient{
		ID:           id.String(),
		PracticeID:   req.PracticeID,
		MRN:          mrn,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DOB:          req.DOB,
		Sex:          req.Sex,
		Email:        req.Email,
		Phone:        req.Phone,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
		City:         req.City,
		State:        req.State,
		PostalCode:   req.PostalCode,
		Allergies:    req.Allergies,
		Tags:         req.Tags,
		Status:       StatusActive,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// GetByID fetches a patient scoped to the practice.
func (r *PostgresRepository) GetByID(ctx context.Context, practiceID, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1 AND practice_id = $2`
	patient, err := scanPatient(r.pool.QueryRow(ctx, query, id, practiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("patients: select failed: %w", err)
	}
	return patient, nil
}

// GetByMRN fetches a patient by registry number.
func (r *PostgresRepository) GetByMRN(ctx context.Context, practiceID, mrn string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE mrn = $1 AND practice_id = $2`
	patient, err := scanPatient(r.pool.QueryRow(ctx, query, mrn, practiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("patients: select by mrn failed: %w", err)
	}
	return patient, nil
}

// Update replaces the mutable fields of a patient.
func (r *PostgresRepository) Update(ctx context.Context, practiceID, id string, req *UpdatePatientRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE patients SET
			first_name = $3,
			last_name = $4,
			sex = $5,
			email = $6,
			phone = $7,
			address_line1 = $8,
			address_line2 = $9,
			city = $10,
			state = $11,
			postal_code = $12,
			allergies = $13,
			tags = $14,
			status = COALESCE(NULLIF($15, ''), status),
			updated_at = now()
		WHERE id = $1 AND practice_id = $2
		RETURNING ` + patientColumns
	patient, err := scanPatient(r.pool.QueryRow(ctx, query,
		id,
		practiceID,
		req.FirstName,
		req.LastName,
		textOrNull(req.Sex),
		textOrNull(req.Email),
		textOrNull(req.Phone),
		textOrNull(req.AddressLine1),
		textOrNull(req.AddressLine2),
		textOrNull(req.City),
		textOrNull(req.State),
		textOrNull(req.PostalCode),
		req.Allergies,
		req.Tags,
		req.Status,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("patients: update failed: %w", err)
	}
	return patient, nil
}

// Archive soft-deletes a patient.
func (r *PostgresRepository) Archive(ctx context.Context, practiceID, id string) error {
	query := `
		UPDATE patients
		SET status = $3, updated_at = now()
		WHERE id = $1 AND practice_id = $2 AND status <> $3
	`
	ct, err := r.pool.Exec(ctx, query, id, practiceID, StatusArchived)
	if err != nil {
		return fmt.Errorf("patients: archive failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// List returns patients matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, practiceID string, filter ListPatientsFilter) ([]*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE practice_id = $1`
	args := []any{practiceID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	} else {
		query += fmt.Sprintf(" AND status <> $%d", argIdx)
		args = append(args, StatusArchived)
		argIdx++
	}

	if filter.Query != "" {
		query += fmt.Sprintf(" AND (mrn ILIKE $%d OR first_name || ' ' || last_name ILIKE $%d)", argIdx, argIdx+1)
		args = append(args, filter.Query+"%", "%"+filter.Query+"%")
		argIdx += 2
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patients: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan failed: %w", err)
		}
		out = append(out, patient)
	}
	return out, rows.Err()
}
