package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOService stores chat media in an S3-compatible bucket.
type MinIOService struct {
	client *minio.Client
	bucket string
}

func NewMinIOService(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIOService, error) {
	// minio.New takes a bare host:port.
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return &MinIOService{client: client, bucket: bucket}, nil
}

func (s *MinIOService) UploadFile(ctx context.Context, objectName string, content io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, content, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinIOService) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()
	return io.ReadAll(object)
}

func (s *MinIOService) DeleteFile(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}
