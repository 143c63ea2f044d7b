package providers

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, req *CreateProviderRequest) (*Provider, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		ID:          uuid.NewString(),
		PracticeID:  req.PracticeID,
		NPI:         req.NPI,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Credentials: req.Credentials,
		Specialties: req.Specialties,
		Color:       req.Color,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if p.Specialties == nil {
		p.Specialties = []string{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO providers (id, practice_id, npi, first_name, last_name, credentials, specialties, color, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.PracticeID, p.NPI, p.FirstName, p.LastName, p.Credentials,
		pq.Array(p.Specialties), p.Color, p.Active, p.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateNPI
		}
		return nil, err
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, practiceID string, includeInactive bool) ([]Provider, error) {
	query := `
		SELECT id, practice_id, npi, first_name, last_name, credentials, specialties, color, active, created_at
		FROM providers WHERE practice_id = $1`
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := r.db.QueryContext(ctx, query, practiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.PracticeID, &p.NPI, &p.FirstName, &p.LastName,
			&p.Credentials, pq.Array(&p.Specialties), &p.Color, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Specialties == nil {
			p.Specialties = []string{}
		}
		out = append(out, p)
	}
	if out == nil {
		out = []Provider{}
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, practiceID, id string) (*Provider, error) {
	var p Provider
	err := r.db.QueryRowContext(ctx, `
		SELECT id, practice_id, npi, first_name, last_name, credentials, specialties, color, active, created_at
		FROM providers WHERE id = $1 AND practice_id = $2`, id, practiceID).Scan(
		&p.ID, &p.PracticeID, &p.NPI, &p.FirstName, &p.LastName,
		&p.Credentials, pq.Array(&p.Specialties), &p.Color, &p.Active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Specialties == nil {
		p.Specialties = []string{}
	}
	return &p, nil
}

func (r *Repository) Deactivate(ctx context.Context, practiceID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE providers SET active = false WHERE id = $1 AND practice_id = $2`, id, practiceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProviderNotFound
	}
	return nil
}
