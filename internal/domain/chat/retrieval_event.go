package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RetrievalEvent snapshots what a single retrieval produced for a turn, so
// answers stay auditable even after the underlying index changes.
type RetrievalEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Query         string `gorm:"column:query;type:text;not null;default:''" json:"query"`
	LatencyMs     int64  `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	LowConfidence bool   `gorm:"column:low_confidence;not null;default:false" json:"low_confidence"`

	Chunks    datatypes.JSON `gorm:"type:jsonb;column:chunks;not null;default:'[]'" json:"chunks,omitempty"`
	Citations datatypes.JSON `gorm:"type:jsonb;column:citations;not null;default:'[]'" json:"citations,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (RetrievalEvent) TableName() string { return "retrieval_event" }
