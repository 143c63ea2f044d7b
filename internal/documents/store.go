package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists document metadata. Deletion is a tombstone; the row and
// the S3 object survive for the retention window.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const documentColumns = `
	id, practice_id, patient_id, filename, content_type, size_bytes, category, uploaded_by, s3_key, created_at
`

func (s *Store) Insert(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (id, practice_id, patient_id, filename, content_type, size_bytes, category, uploaded_by, s3_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		doc.ID, doc.PracticeID, doc.PatientID, doc.Filename, doc.ContentType,
		doc.SizeBytes, string(doc.Category), textOrNull(doc.UploadedBy), doc.S3Key, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("documents: insert: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, practiceID, docID string) (*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE practice_id = $1 AND id = $2 AND deleted_at IS NULL
	`
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, practiceID, docID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("documents: get: %w", err)
	}
	return doc, nil
}

func (s *Store) ListByPatient(ctx context.Context, practiceID, patientID string) ([]Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE practice_id = $1 AND patient_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, practiceID, patientID)
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("documents: scan: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("documents: list rows: %w", err)
	}
	return docs, nil
}

// Tombstone marks a document deleted. Returns false when the document is
// unknown or already tombstoned.
func (s *Store) Tombstone(ctx context.Context, practiceID, docID string) (bool, error) {
	query := `
		UPDATE documents SET deleted_at = NOW()
		WHERE practice_id = $1 AND id = $2 AND deleted_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, practiceID, docID)
	if err != nil {
		return false, fmt.Errorf("documents: tombstone: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var category string
	var uploadedBy pgtype.Text
	err := row.Scan(
		&doc.ID, &doc.PracticeID, &doc.PatientID, &doc.Filename, &doc.ContentType,
		&doc.SizeBytes, &category, &uploadedBy, &doc.S3Key, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Category = Category(category)
	doc.UploadedBy = uploadedBy.String
	return &doc, nil
}

func textOrNull(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}
