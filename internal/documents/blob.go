package documents

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// BlobStore reads and writes document bytes in S3. With no bucket
// configured it reports disabled and the service rejects uploads.
type BlobStore struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewBlobStore(s3Client S3API, bucket string, logger *logging.Logger) *BlobStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &BlobStore{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if document storage is configured.
func (s *BlobStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func (s *BlobStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if !s.Enabled() {
		return ErrStorageDisabled
	}
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("documents: s3 put %s: %w", key, err)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !s.Enabled() {
		return nil, ErrStorageDisabled
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("documents: s3 get %s: %w", key, err)
	}
	return out.Body, nil
}
