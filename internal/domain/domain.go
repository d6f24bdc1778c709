package domain

import (
	"github.com/AlPairo/temis-backend/internal/domain/audit"
	"github.com/AlPairo/temis-backend/internal/domain/chat"
)

type (
	Conversation   = chat.Conversation
	ChatMessage    = chat.ChatMessage
	RetrievalEvent = chat.RetrievalEvent
	AuditEvent     = audit.Event
)

const (
	RoleSystem    = chat.RoleSystem
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	RoleTool      = chat.RoleTool

	AuditChatStart     = audit.EventChatStart
	AuditChatModelCall = audit.EventChatModelCall
	AuditChatComplete  = audit.EventChatComplete
	AuditChatError     = audit.EventChatError
)

// AllModels is consumed by AutoMigrate at startup.
func AllModels() []any {
	return []any{
		&chat.Conversation{},
		&chat.ChatMessage{},
		&chat.RetrievalEvent{},
		&audit.Event{},
	}
}
