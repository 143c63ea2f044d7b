package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *mockS3Client) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mockPool.Close)
	s3mock := newMockS3()
	svc := NewService(NewStore(mockPool), NewBlobStore(s3mock, "carebridge-documents", nil), nil, logging.New("error"))
	return svc, mockPool, s3mock
}

func TestServiceUpload(t *testing.T) {
	svc, mockPool, s3mock := newTestService(t)

	mockPool.ExpectExec("INSERT INTO documents").
		WithArgs(pgxmock.AnyArg(), "prac-1", "pat-1", "intake.pdf", "application/pdf",
			int64(13), "intake_form", pgtype.Text{String: "staff-1", Valid: true},
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc, err := svc.Upload(context.Background(), UploadParams{
		PracticeID:  "prac-1",
		PatientID:   "pat-1",
		Filename:    "intake.pdf",
		ContentType: "application/pdf",
		Category:    "intake_form",
		UploadedBy:  "staff-1",
		SizeBytes:   13,
		Body:        strings.NewReader("%PDF-1.4 test"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected a generated document id")
	}
	wantKey := "practices/prac-1/patients/pat-1/" + doc.ID
	if doc.S3Key != wantKey {
		t.Fatalf("unexpected key: %q", doc.S3Key)
	}
	if string(s3mock.objects[wantKey]) != "%PDF-1.4 test" {
		t.Fatalf("expected object stored under %q", wantKey)
	}

	if err := mockPool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceUploadValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name    string
		params  UploadParams
		wantErr error
	}{
		{"missing patient", UploadParams{PracticeID: "prac-1", Filename: "a.pdf", SizeBytes: 1, Body: strings.NewReader("x")}, ErrMissingPatientID},
		{"missing filename", UploadParams{PracticeID: "prac-1", PatientID: "pat-1", SizeBytes: 1, Body: strings.NewReader("x")}, ErrMissingFilename},
		{"empty file", UploadParams{PracticeID: "prac-1", PatientID: "pat-1", Filename: "a.pdf", SizeBytes: 0}, ErrEmptyFile},
		{"too large", UploadParams{PracticeID: "prac-1", PatientID: "pat-1", Filename: "a.pdf", SizeBytes: MaxUploadBytes + 1}, ErrFileTooLarge},
		{"bad category", UploadParams{PracticeID: "prac-1", PatientID: "pat-1", Filename: "a.pdf", SizeBytes: 1, Category: "selfies", Body: strings.NewReader("x")}, ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upload(context.Background(), tt.params); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServiceUploadStorageDisabled(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mockPool.Close()

	svc := NewService(NewStore(mockPool), NewBlobStore(nil, "", nil), nil, logging.New("error"))
	_, err = svc.Upload(context.Background(), UploadParams{
		PracticeID: "prac-1", PatientID: "pat-1", Filename: "a.pdf", SizeBytes: 1, Body: strings.NewReader("x"),
	})
	if !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
}

func TestServiceUploadMetadataFailure(t *testing.T) {
	svc, mockPool, s3mock := newTestService(t)

	mockPool.ExpectExec("INSERT INTO documents").
		WithArgs(pgxmock.AnyArg(), "prac-1", "pat-1", "a.pdf", "application/octet-stream",
			int64(1), "other", pgtype.Text{}, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("pg down"))

	_, err := svc.Upload(context.Background(), UploadParams{
		PracticeID: "prac-1", PatientID: "pat-1", Filename: "a.pdf", SizeBytes: 1, Body: strings.NewReader("x"),
	})
	if err == nil {
		t.Fatal("expected error when metadata insert fails")
	}
	// The object is orphaned but present; the retention sweep owns it.
	if len(s3mock.putCalls) != 1 {
		t.Fatalf("expected the blob put to have happened, got %d", len(s3mock.putCalls))
	}
}

func TestServiceOpen(t *testing.T) {
	svc, mockPool, s3mock := newTestService(t)
	now := time.Now().UTC()

	key := "practices/prac-1/patients/pat-1/doc-1"
	s3mock.objects[key] = []byte("card bytes")

	rows := documentRows().AddRow(
		"doc-1", "prac-1", "pat-1", "card.jpg", "image/jpeg",
		int64(10), "insurance_card", pgtype.Text{}, key, now,
	)
	mockPool.ExpectQuery("SELECT").WithArgs("prac-1", "doc-1").WillReturnRows(rows)

	doc, body, err := svc.Open(context.Background(), "prac-1", "doc-1", "staff-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer body.Close()

	if doc.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type: %q", doc.ContentType)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "card bytes" {
		t.Fatalf("unexpected body: %q", data)
	}
}

func TestServiceOpenNotFound(t *testing.T) {
	svc, mockPool, _ := newTestService(t)

	mockPool.ExpectQuery("SELECT").WithArgs("prac-1", "missing").WillReturnRows(documentRows())
	if _, _, err := svc.Open(context.Background(), "prac-1", "missing", "staff-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceDelete(t *testing.T) {
	svc, mockPool, _ := newTestService(t)
	now := time.Now().UTC()

	rows := documentRows().AddRow(
		"doc-1", "prac-1", "pat-1", "a.pdf", "application/pdf",
		int64(1), "other", pgtype.Text{}, "practices/prac-1/patients/pat-1/doc-1", now,
	)
	mockPool.ExpectQuery("SELECT").WithArgs("prac-1", "doc-1").WillReturnRows(rows)
	mockPool.ExpectExec("UPDATE documents SET deleted_at").
		WithArgs("prac-1", "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := svc.Delete(context.Background(), "prac-1", "doc-1", "staff-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := mockPool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceDeleteUnknownDocument(t *testing.T) {
	svc, mockPool, _ := newTestService(t)

	mockPool.ExpectQuery("SELECT").WithArgs("prac-1", "missing").WillReturnRows(documentRows())
	if err := svc.Delete(context.Background(), "prac-1", "missing", "staff-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
