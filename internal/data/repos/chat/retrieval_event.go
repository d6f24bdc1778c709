package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type RetrievalEventRepo interface {
	Append(dbc dbctx.Context, row *types.RetrievalEvent) error
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.RetrievalEvent, error)
}

type retrievalEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRetrievalEventRepo(db *gorm.DB, log *logger.Logger) RetrievalEventRepo {
	return &retrievalEventRepo{db: db, log: log.With("repo", "RetrievalEventRepo")}
}

func (r *retrievalEventRepo) Append(dbc dbctx.Context, row *types.RetrievalEvent) error {
	if row == nil {
		return fmt.Errorf("missing retrieval event")
	}
	if row.ConversationID == uuid.Nil {
		return fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(row).Error
}

func (r *retrievalEventRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.RetrievalEvent, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.RetrievalEvent
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.RetrievalEvent{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
