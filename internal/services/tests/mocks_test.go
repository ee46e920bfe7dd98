package services_test

import (
	"context"
	"io"
	"strings"

	"glowscan_go_backend/internal/services"

	"github.com/stretchr/testify/mock"
)

type MockInferenceBackend struct {
	mock.Mock
	// accepts lists mime type prefixes; empty accepts everything.
	accepts []string
}

func (m *MockInferenceBackend) Generate(ctx context.Context, req services.BackendRequest) (services.BackendResponse, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context) (services.BackendResponse, error)); ok {
		return fn(ctx)
	}
	return args.Get(0).(services.BackendResponse), args.Error(1)
}

func (m *MockInferenceBackend) Accepts(mimeType string) bool {
	if len(m.accepts) == 0 {
		return true
	}
	for _, prefix := range m.accepts {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

type MockCloudStorageManager struct {
	mock.Mock
}

func (m *MockCloudStorageManager) UploadFile(ctx context.Context, objectName string, content io.Reader, contentType string) error {
	args := m.Called(ctx, objectName, content, contentType)
	return args.Error(0)
}

func (m *MockCloudStorageManager) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	args := m.Called(ctx, objectName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCloudStorageManager) DeleteFile(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}
