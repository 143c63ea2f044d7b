package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockS3Client records PutObject calls and serves GetObject from memory.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	putErr   error
	getErr   error
}

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(input.Body)
	call := putCall{bucket: *input.Bucket, key: *input.Key, body: body}
	if input.ContentType != nil {
		call.contentType = *input.ContentType
	}
	m.putCalls = append(m.putCalls, call)
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey: key not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestBlobStorePutGet(t *testing.T) {
	mock := newMockS3()
	store := NewBlobStore(mock, "carebridge-documents", nil)

	if !store.Enabled() {
		t.Fatal("expected store to be enabled with a bucket")
	}

	key := documentKey("prac-1", "pat-1", "doc-1")
	if err := store.Put(context.Background(), key, "application/pdf", strings.NewReader("%PDF-1.4 test")); err != nil {
		t.Fatalf("put: %v", err)
	}

	if len(mock.putCalls) != 1 {
		t.Fatalf("expected 1 put, got %d", len(mock.putCalls))
	}
	call := mock.putCalls[0]
	if call.bucket != "carebridge-documents" {
		t.Fatalf("unexpected bucket: %q", call.bucket)
	}
	if call.key != "practices/prac-1/patients/pat-1/doc-1" {
		t.Fatalf("unexpected key: %q", call.key)
	}
	if call.contentType != "application/pdf" {
		t.Fatalf("unexpected content type: %q", call.contentType)
	}

	body, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "%PDF-1.4 test" {
		t.Fatalf("unexpected body: %q", data)
	}
}

func TestBlobStoreDisabled(t *testing.T) {
	store := NewBlobStore(nil, "", nil)
	if store.Enabled() {
		t.Fatal("expected store without a bucket to be disabled")
	}
	if err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("x")); !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected ErrStorageDisabled, got %v", err)
	}

	var nilStore *BlobStore
	if nilStore.Enabled() {
		t.Fatal("expected nil store to be disabled")
	}
}

func TestBlobStoreGetMissingKey(t *testing.T) {
	store := NewBlobStore(newMockS3(), "carebridge-documents", nil)
	if _, err := store.Get(context.Background(), "practices/p/patients/x/missing"); err == nil {
		t.Fatal("expected error for a missing object")
	}
}
