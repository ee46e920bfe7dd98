package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glowscan_go_backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DefaultConversationService struct {
	db            *gorm.DB
	titleMaxRunes int
	now           func() time.Time
}

func NewConversationServiceDB(db *gorm.DB, titleMaxRunes int) ConversationStore {
	return &DefaultConversationService{db: db, titleMaxRunes: titleMaxRunes, now: time.Now}
}

func (s *DefaultConversationService) CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:          uuid.New().String(),
		OwnerUserID: ownerID,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *DefaultConversationService) GetConversation(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_user_id = ?", conversationID, ownerID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the owner's conversations, newest first.
func (s *DefaultConversationService) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	result := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at desc").
		Find(&convs)
	if result.Error != nil {
		return nil, result.Error
	}
	return convs, nil
}

// AppendMessage holds a row lock on the conversation for the whole insert, which orders
// concurrent appends to the same conversation and leaves other conversations unaffected.
func (s *DefaultConversationService) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Conversation, error) {
	var conv models.Conversation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversationID).
			First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		msg.ID = uuid.New().String()
		msg.ConversationID = conversationID
		msg.Seq = conv.MessageCount + 1
		msg.CreatedAt = nextMessageTime(s.now(), conv.LastMessageAt)
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"message_count":   msg.Seq,
			"last_message_at": msg.CreatedAt,
		}
		if msg.Seq == 1 {
			conv.Title = deriveTitle(msg, s.titleMaxRunes, msg.CreatedAt)
			updates["title"] = conv.Title
		}
		conv.MessageCount = msg.Seq
		conv.LastMessageAt = msg.CreatedAt
		return tx.Model(&conv).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &conv, nil
}

func (s *DefaultConversationService) ListOrdered(ctx context.Context, conversationID string) *MessageIterator {
	return newMessageIterator(ctx, func(ctx context.Context, after *models.Message, limit int) ([]models.Message, error) {
		query := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
		if after != nil {
			query = query.Where("(created_at, seq) > (?, ?)", after.CreatedAt, after.Seq)
		}
		var messages []models.Message
		result := query.Order("created_at asc, seq asc").Limit(limit).Find(&messages)
		if result.Error != nil {
			return nil, result.Error
		}
		if len(messages) == 0 && after == nil {
			var count int64
			if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, ErrConversationNotFound
			}
		}
		return messages, nil
	})
}
