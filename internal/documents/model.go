// Package documents stores patient-uploaded files: intake forms, referral
// letters, insurance card scans. Bytes live in S3, metadata in Postgres.
package documents

import (
	"errors"
	"fmt"
	"time"
)

// Category buckets a document for the portal's document list.
type Category string

const (
	CategoryIntakeForm    Category = "intake_form"
	CategoryReferral      Category = "referral"
	CategoryInsuranceCard Category = "insurance_card"
	CategoryOther         Category = "other"
)

// NormalizeCategory maps an optional request value onto a known category.
func NormalizeCategory(s string) (Category, error) {
	if s == "" {
		return CategoryOther, nil
	}
	switch Category(s) {
	case CategoryIntakeForm, CategoryReferral, CategoryInsuranceCard, CategoryOther:
		return Category(s), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
	}
}

// Document is the metadata row for one stored file.
type Document struct {
	ID          string    `json:"id"`
	PracticeID  string    `json:"practice_id"`
	PatientID   string    `json:"patient_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Category    Category  `json:"category"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	S3Key       string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	// ErrNotFound marks lookups for a document the practice does not have,
	// including tombstoned ones.
	ErrNotFound = errors.New("documents: not found")
	// ErrStorageDisabled is returned when no bucket is configured.
	ErrStorageDisabled = errors.New("documents: storage is not configured")

	ErrMissingPatientID = errors.New("documents: patient id is required")
	ErrMissingFilename  = errors.New("documents: filename is required")
	ErrEmptyFile        = errors.New("documents: file is empty")
	ErrFileTooLarge     = errors.New("documents: file exceeds the size limit")
	ErrUnknownCategory  = errors.New("documents: unknown category")
)

// documentKey is the S3 object key layout. Tenant first so practice-level
// retention tooling can prefix-scan.
func documentKey(practiceID, patientID, docID string) string {
	return fmt.Sprintf("practices/%s/patients/%s/%s", practiceID, patientID, docID)
}
