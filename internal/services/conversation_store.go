package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"glowscan_go_backend/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

const messagePageSize = 50

// Change feed event types.
const (
	EventMessageAppended     = "message_appended"
	EventConversationUpdated = "conversation_updated"
)

type ChangeEvent struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id"`
	Message        *models.Message      `json:"message,omitempty"`
	Conversation   *models.Conversation `json:"conversation,omitempty"`
}

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func UserTopic(ownerID string) string {
	return "user:" + ownerID
}

// messagePager returns up to limit messages strictly after the cursor message, in
// (CreatedAt, Seq) order. A nil cursor starts from the beginning.
type messagePager func(ctx context.Context, after *models.Message, limit int) ([]models.Message, error)

// MessageIterator walks a conversation page by page. It holds only a cursor between
// pages, so it can be reset and walked again.
type MessageIterator struct {
	ctx      context.Context
	fetch    messagePager
	pageSize int
	buf      []models.Message
	cursor   *models.Message
	done     bool
	err      error
}

func newMessageIterator(ctx context.Context, fetch messagePager) *MessageIterator {
	return &MessageIterator{ctx: ctx, fetch: fetch, pageSize: messagePageSize}
}

// Next returns iterator.Done after the last message.
func (it *MessageIterator) Next() (*models.Message, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.buf) == 0 {
		if it.done {
			return nil, iterator.Done
		}
		page, err := it.fetch(it.ctx, it.cursor, it.pageSize)
		if err != nil {
			it.err = err
			return nil, err
		}
		if len(page) < it.pageSize {
			it.done = true
		}
		if len(page) == 0 {
			return nil, iterator.Done
		}
		it.buf = page
	}

	msg := it.buf[0]
	it.buf = it.buf[1:]
	it.cursor = &msg
	return &msg, nil
}

// Reset rewinds the iterator to the first message.
func (it *MessageIterator) Reset() {
	it.buf = nil
	it.cursor = nil
	it.done = false
	it.err = nil
}

// Collect drains the iterator.
func (it *MessageIterator) Collect() ([]models.Message, error) {
	var messages []models.Message
	for {
		msg, err := it.Next()
		if err == iterator.Done {
			return messages, nil
		}
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
}

// Tail drains the iterator keeping only the last n messages.
func (it *MessageIterator) Tail(n int) ([]models.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]models.Message, 0, n)
	for {
		msg, err := it.Next()
		if err == iterator.Done {
			return ring, nil
		}
		if err != nil {
			return nil, err
		}
		if len(ring) == n {
			ring = append(ring[1:], *msg)
		} else {
			ring = append(ring, *msg)
		}
	}
}

// deriveTitle names a conversation after its first message: the leading maxRunes runes
// of the text, or a dated default for media-only messages.
func deriveTitle(msg *models.Message, maxRunes int, at time.Time) string {
	text := strings.Join(strings.Fields(msg.Content), " ")
	if text == "" {
		return "Analysis - " + at.UTC().Format("Jan 2, 2006")
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:maxRunes]))
}

// nextMessageTime keeps CreatedAt strictly increasing inside a conversation even when the
// wall clock stalls or steps backwards.
func nextMessageTime(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !now.After(last) {
		return last.UTC().Add(time.Microsecond)
	}
	return now
}

type Subscriber interface {
	Subscribe(topic string) <-chan any
	Unsubscribe(topic string, ch <-chan any)
}

// ConversationService fronts a ConversationStore and announces every change on the
// broker: per conversation and per owner.
type ConversationService struct {
	store  ConversationStore
	broker ChangeBroker
}

type ChangeBroker interface {
	EventPublisher
	Subscriber
}

func NewConversationService(store ConversationStore, broker ChangeBroker) *ConversationService {
	return &ConversationService{store: store, broker: broker}
}

func (s *ConversationService) CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.broker.Publish(UserTopic(ownerID), ChangeEvent{
		Type:           EventConversationUpdated,
		ConversationID: conv.ID,
		Conversation:   conv,
	})
	return conv, nil
}

func (s *ConversationService) GetConversation(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, ownerID, conversationID)
}

func (s *ConversationService) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx, ownerID)
}

// Append stores msg at the end of the conversation and returns its id.
func (s *ConversationService) Append(ctx context.Context, conversationID string, msg *models.Message) (string, error) {
	conv, err := s.store.AppendMessage(ctx, conversationID, msg)
	if err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Debug().
		Str("conversation_id", conversationID).
		Int64("seq", msg.Seq).
		Str("sender", string(msg.Sender)).
		Msg("Message appended")

	appended := *msg
	s.broker.Publish(ConversationTopic(conversationID), ChangeEvent{
		Type:           EventMessageAppended,
		ConversationID: conversationID,
		Message:        &appended,
	})
	s.broker.Publish(UserTopic(conv.OwnerUserID), ChangeEvent{
		Type:           EventConversationUpdated,
		ConversationID: conversationID,
		Conversation:   conv,
	})
	return msg.ID, nil
}

func (s *ConversationService) ListOrdered(ctx context.Context, conversationID string) *MessageIterator {
	return s.store.ListOrdered(ctx, conversationID)
}

// FindMessage returns one message of a conversation the owner can see.
func (s *ConversationService) FindMessage(ctx context.Context, ownerID, conversationID, messageID string) (*models.Message, error) {
	if _, err := s.store.GetConversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	it := s.store.ListOrdered(ctx, conversationID)
	for {
		msg, err := it.Next()
		if err == iterator.Done {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		if msg.ID == messageID {
			return msg, nil
		}
	}
}

func (s *ConversationService) Subscribe(topic string) <-chan any {
	return s.broker.Subscribe(topic)
}

func (s *ConversationService) Unsubscribe(topic string, ch <-chan any) {
	s.broker.Unsubscribe(topic, ch)
}
