package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink is the append-only archive collaborator. Writes are at-least-once; a
// sink must tolerate duplicate keys from repeated cycles.
type Sink interface {
	// Write appends a serialized payload under the given object key.
	Write(ctx context.Context, key string, payload []byte) error
}

// S3SinkConfig holds configuration for the S3-compatible archive sink.
type S3SinkConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional; set for S3-compatible stores
}

// S3Sink archives payloads to an S3-compatible bucket.
type S3Sink struct {
	client     *s3.Client
	bucketName string
}

// NewS3Sink creates an archive sink backed by S3-compatible object storage.
func NewS3Sink(cfg S3SinkConfig) (*S3Sink, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}

	opts := s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &S3Sink{
		client:     s3.New(opts),
		bucketName: cfg.BucketName,
	}, nil
}

// Write uploads the payload to the bucket under the given key.
func (s *S3Sink) Write(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to write archive object %s: %w", key, err)
	}
	return nil
}

// MemorySink is an in-memory Sink for testing. Thread-safe.
type MemorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
}

// NewMemorySink creates an empty in-memory archive sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string][]byte)}
}

// Write stores the payload under the key.
func (s *MemorySink) Write(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	if _, exists := s.objects[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.objects[key] = cp
	s.mu.Unlock()
	return nil
}

// Keys returns the written object keys in write order.
func (s *MemorySink) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Object returns the payload stored under a key.
func (s *MemorySink) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.objects[key]
	return p, ok
}
