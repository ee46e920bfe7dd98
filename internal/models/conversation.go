package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type MessageKind string

const (
	KindText           MessageKind = "text"
	KindImage          MessageKind = "image"
	KindVideo          MessageKind = "video"
	KindAnalysisResult MessageKind = "analysis_result"
)

type Conversation struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerUserID   string         `gorm:"size:128;not null;index" json:"owner_user_id"`
	Title         string         `json:"title"`
	MessageCount  int64          `gorm:"not null;default:0" json:"message_count"`
	LastMessageAt time.Time      `json:"last_message_at"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Message is append-only. Seq is assigned by the store and, together with CreatedAt,
// gives the total order inside a conversation.
type Message struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string         `gorm:"size:36;not null;index:idx_message_order,priority:1" json:"conversation_id"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_message_order,priority:2" json:"created_at"`
	Seq            int64          `gorm:"not null;index:idx_message_order,priority:3" json:"seq"`
	Sender         Sender         `gorm:"size:8;not null" json:"sender"`
	Kind           MessageKind    `gorm:"size:32;not null" json:"type"`
	Content        string         `json:"content"`
	AnalysisData   datatypes.JSON `gorm:"type:jsonb" json:"analysis_data,omitempty"`
	MediaRef       string         `json:"media_ref,omitempty"`
	ModelTier      string         `gorm:"size:64" json:"model_tier,omitempty"`
}
