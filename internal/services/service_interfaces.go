package services

import (
	"context"
	"io"

	"glowscan_go_backend/internal/models"
)

type UserStore interface {
	GetOrCreateUser(ctx context.Context, userID string, authenticated bool) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetPlan(ctx context.Context, userID, planID string) (*models.User, error)
}

// QuotaStore performs the atomic check-and-increment for one (user, tier, day) key.
// used is the count after the call: incremented when allowed, unchanged when denied.
type QuotaStore interface {
	Consume(ctx context.Context, userID, tier, day string, limit int64) (used int64, allowed bool, err error)
	Peek(ctx context.Context, userID, tier, day string) (int64, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error)
	// AppendMessage fills msg.ID, msg.Seq and msg.CreatedAt and returns the conversation
	// as it stands after the append.
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Conversation, error)
	ListOrdered(ctx context.Context, conversationID string) *MessageIterator
}

type InferenceBackend interface {
	Generate(ctx context.Context, req BackendRequest) (BackendResponse, error)
}

type CloudStorageManager interface {
	UploadFile(ctx context.Context, objectName string, content io.Reader, contentType string) error
	DownloadFile(ctx context.Context, objectName string) ([]byte, error)
	DeleteFile(ctx context.Context, objectName string) error
}

type EventPublisher interface {
	Publish(topic string, event any)
}

type FrameLimiter interface {
	TryAcquire(userID string) (release func(), ok bool)
}
