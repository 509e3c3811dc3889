package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore issues presigned URLs for evidence images. The engine never
// touches image bytes: clients upload directly against the presigned PUT URL
// and the engine only records the resulting opaque ref.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key string, expiration time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, expiration time.Duration) (string, error)
	Ref(key string) string
}

type s3ObjectStore struct {
	bucket  string
	presign *s3.PresignClient
}

// NewS3ObjectStore creates an ObjectStore backed by S3 using the default AWS
// credential chain.
func NewS3ObjectStore(ctx context.Context, bucket, region string) (ObjectStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &s3ObjectStore{
		bucket:  bucket,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (s *s3ObjectStore) PresignUpload(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *s3ObjectStore) PresignDownload(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", key, err)
	}
	return req.URL, nil
}

// Ref returns the opaque URI stored on proof records for a given object key.
func (s *s3ObjectStore) Ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
