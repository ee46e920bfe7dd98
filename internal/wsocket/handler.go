package wsocket

import (
	"context"
	"net/http"
	"time"

	"glowscan_go_backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Handler struct {
	conversations *services.ConversationService
	upgrader      websocket.Upgrader
	pingInterval  time.Duration
}

// Message is the envelope written to clients.
type Message struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        any    `json:"content,omitempty"`
}

func NewHandler(conversations *services.ConversationService, upgrader websocket.Upgrader, pingInterval time.Duration) *Handler {
	return &Handler{
		conversations: conversations,
		upgrader:      upgrader,
		pingInterval:  pingInterval,
	}
}

// HandleWebSocket streams change events for one conversation, or for all of the user's
// conversations when conversationID is empty.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID, conversationID string) error {
	log := zerolog.Ctx(r.Context())

	topic := services.UserTopic(userID)
	if conversationID != "" {
		if _, err := h.conversations.GetConversation(r.Context(), userID, conversationID); err != nil {
			return err
		}
		topic = services.ConversationTopic(conversationID)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := h.conversations.Subscribe(topic)
	defer h.conversations.Unsubscribe(topic, events)

	log.Debug().Str("topic", topic).Msg("Change feed subscribed")

	if err := conn.WriteJSON(Message{Type: "subscribed", ConversationID: conversationID}); err != nil {
		return nil
	}

	// The read loop only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("topic", topic).Msg("Change feed closed")
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			change, ok := event.(services.ChangeEvent)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(Message{
				Type:           change.Type,
				ConversationID: change.ConversationID,
				Content:        changeContent(change),
			}); err != nil {
				log.Debug().Err(err).Msg("Error sending change event")
				return nil
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.pingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return nil
			}
		}
	}
}

func changeContent(change services.ChangeEvent) any {
	if change.Message != nil {
		return change.Message
	}
	return change.Conversation
}
