package services

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GCSService stores chat media in a single Cloud Storage bucket.
type GCSService struct {
	client     *storage.Client
	bucketName string
}

func NewGCSService(ctx context.Context, bucketName string) (*GCSService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSService{client: client, bucketName: bucketName}, nil
}

func (s *GCSService) UploadFile(ctx context.Context, objectName string, content io.Reader, contentType string) error {
	writer := s.client.Bucket(s.bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, content); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (s *GCSService) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSService) DeleteFile(ctx context.Context, objectName string) error {
	return s.client.Bucket(s.bucketName).Object(objectName).Delete(ctx)
}

func (s *GCSService) Close() error {
	return s.client.Close()
}
