package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"glowscan_go_backend/internal/models"

	"github.com/google/uuid"
)

type memoryConversation struct {
	conv     models.Conversation
	messages []models.Message
}

type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	titleMaxRunes int
	now           func() time.Time
}

func NewMemoryConversationStore(titleMaxRunes int) *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*memoryConversation),
		titleMaxRunes: titleMaxRunes,
		now:           time.Now,
	}
}

func (s *MemoryConversationStore) WithClock(now func() time.Time) *MemoryConversationStore {
	s.now = now
	return s
}

func (s *MemoryConversationStore) CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	conv := models.Conversation{
		ID:          uuid.New().String(),
		OwnerUserID: ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.conversations[conv.ID] = &memoryConversation{conv: conv}
	return &conv, nil
}

func (s *MemoryConversationStore) GetConversation(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.conversations[conversationID]
	if !ok || entry.conv.OwnerUserID != ownerID {
		return nil, ErrConversationNotFound
	}
	conv := entry.conv
	return &conv, nil
}

func (s *MemoryConversationStore) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []models.Conversation
	for _, entry := range s.conversations {
		if entry.conv.OwnerUserID == ownerID {
			convs = append(convs, entry.conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	msg.ID = uuid.New().String()
	msg.ConversationID = conversationID
	msg.Seq = entry.conv.MessageCount + 1
	msg.CreatedAt = nextMessageTime(s.now(), entry.conv.LastMessageAt)

	if msg.Seq == 1 {
		entry.conv.Title = deriveTitle(msg, s.titleMaxRunes, msg.CreatedAt)
	}
	entry.conv.MessageCount = msg.Seq
	entry.conv.LastMessageAt = msg.CreatedAt
	entry.conv.UpdatedAt = msg.CreatedAt
	entry.messages = append(entry.messages, *msg)

	conv := entry.conv
	return &conv, nil
}

func (s *MemoryConversationStore) ListOrdered(ctx context.Context, conversationID string) *MessageIterator {
	return newMessageIterator(ctx, func(ctx context.Context, after *models.Message, limit int) ([]models.Message, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		entry, ok := s.conversations[conversationID]
		if !ok {
			return nil, ErrConversationNotFound
		}

		// Messages are stored in append order, which is (CreatedAt, Seq) order.
		start := 0
		if after != nil {
			start = int(after.Seq)
		}
		if start >= len(entry.messages) {
			return nil, nil
		}
		end := start + limit
		if end > len(entry.messages) {
			end = len(entry.messages)
		}
		page := make([]models.Message, end-start)
		copy(page, entry.messages[start:end])
		return page, nil
	})
}
