package documents

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// MaxUploadBytes caps a single document upload.
const MaxUploadBytes = 25 << 20

// Service orchestrates uploads across the blob store and the metadata
// table, and writes compliance audit events for every access.
type Service struct {
	store  *Store
	blobs  *BlobStore
	audit  *compliance.AuditService
	logger *logging.Logger
}

func NewService(store *Store, blobs *BlobStore, audit *compliance.AuditService, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, blobs: blobs, audit: audit, logger: logger}
}

// UploadParams carries one multipart upload.
type UploadParams struct {
	PracticeID  string
	PatientID   string
	Filename    string
	ContentType string
	Category    string
	UploadedBy  string
	SizeBytes   int64
	Body        io.Reader
}

func (s *Service) Upload(ctx context.Context, p UploadParams) (*Document, error) {
	if !s.blobs.Enabled() {
		return nil, ErrStorageDisabled
	}
	if strings.TrimSpace(p.PatientID) == "" {
		return nil, ErrMissingPatientID
	}
	if strings.TrimSpace(p.Filename) == "" {
		return nil, ErrMissingFilename
	}
	if p.SizeBytes <= 0 {
		return nil, ErrEmptyFile
	}
	if p.SizeBytes > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}
	category, err := NormalizeCategory(p.Category)
	if err != nil {
		return nil, err
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &Document{
		ID:          uuid.NewString(),
		PracticeID:  p.PracticeID,
		PatientID:   p.PatientID,
		Filename:    p.Filename,
		ContentType: contentType,
		SizeBytes:   p.SizeBytes,
		Category:    category,
		UploadedBy:  p.UploadedBy,
		CreatedAt:   time.Now().UTC(),
	}
	doc.S3Key = documentKey(doc.PracticeID, doc.PatientID, doc.ID)

	if err := s.blobs.Put(ctx, doc.S3Key, doc.ContentType, p.Body); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		// The object is orphaned in S3; retention cleanup sweeps it.
		s.logger.Error("document metadata insert failed after s3 put", "error", err, "s3_key", doc.S3Key)
		return nil, err
	}

	s.logger.Info("document uploaded",
		"practice_id", doc.PracticeID, "patient_id", doc.PatientID,
		"document_id", doc.ID, "category", doc.Category, "size_bytes", doc.SizeBytes)

	if s.audit != nil {
		if err := s.audit.LogRecordModified(ctx, doc.PracticeID, doc.PatientID, doc.UploadedBy,
			"document:"+doc.ID, []string{"uploaded"}); err != nil {
			s.logger.Warn("failed to audit document upload", "error", err, "document_id", doc.ID)
		}
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, practiceID, patientID string) ([]Document, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, ErrMissingPatientID
	}
	return s.store.ListByPatient(ctx, practiceID, patientID)
}

// Open returns a document's metadata and a reader over its bytes. The
// caller must close the reader.
func (s *Service) Open(ctx context.Context, practiceID, docID, actorID string) (*Document, io.ReadCloser, error) {
	doc, err := s.store.GetByID(ctx, practiceID, docID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Get(ctx, doc.S3Key)
	if err != nil {
		return nil, nil, err
	}

	if s.audit != nil {
		if err := s.audit.LogRecordAccess(ctx, practiceID, doc.PatientID, actorID, "document:"+doc.ID); err != nil {
			s.logger.Warn("failed to audit document access", "error", err, "document_id", doc.ID)
		}
	}
	return doc, body, nil
}

// Delete tombstones a document. The S3 object stays for the retention
// window; only the listing disappears.
func (s *Service) Delete(ctx context.Context, practiceID, docID, actorID string) error {
	doc, err := s.store.GetByID(ctx, practiceID, docID)
	if err != nil {
		return err
	}
	ok, err := s.store.Tombstone(ctx, practiceID, docID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	s.logger.Info("document tombstoned", "practice_id", practiceID, "document_id", docID)

	if s.audit != nil {
		if err := s.audit.LogRecordModified(ctx, practiceID, doc.PatientID, actorID,
			"document:"+docID, []string{"deleted"}); err != nil {
			s.logger.Warn("failed to audit document delete", "error", err, "document_id", docID)
		}
	}
	return nil
}
