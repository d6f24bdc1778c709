package app

import (
	"gorm.io/gorm"

	auditrepo "github.com/AlPairo/temis-backend/internal/data/repos/audit"
	chatrepo "github.com/AlPairo/temis-backend/internal/data/repos/chat"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type Repos struct {
	Conversations chatrepo.ConversationRepo
	Messages      chatrepo.MessageRepo
	Retrievals    chatrepo.RetrievalEventRepo
	Audit         auditrepo.EventRepo
}

func NewRepos(db *gorm.DB, log *logger.Logger) *Repos {
	return &Repos{
		Conversations: chatrepo.NewConversationRepo(db, log),
		Messages:      chatrepo.NewMessageRepo(db, log),
		Retrievals:    chatrepo.NewRetrievalEventRepo(db, log),
		Audit:         auditrepo.NewEventRepo(db, log),
	}
}
