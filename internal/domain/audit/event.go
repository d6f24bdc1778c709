package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventChatStart     = "chat.start"
	EventChatModelCall = "chat.model_call"
	EventChatComplete  = "chat.complete"
	EventChatError     = "chat.error"
)

type Event struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	EventType string         `gorm:"column:event_type;not null;index" json:"event_type"`
	Payload   datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Event) TableName() string { return "audit_event" }
