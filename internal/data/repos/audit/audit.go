package audit

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type EventRepo interface {
	AppendEvent(dbc dbctx.Context, row *types.AuditEvent) error
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.AuditEvent, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, log *logger.Logger) EventRepo {
	return &eventRepo{db: db, log: log.With("repo", "AuditEventRepo")}
}

func (r *eventRepo) AppendEvent(dbc dbctx.Context, row *types.AuditEvent) error {
	if row == nil {
		return fmt.Errorf("missing audit event")
	}
	if row.EventType == "" {
		return fmt.Errorf("missing event_type")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(row).Error
}

func (r *eventRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.AuditEvent, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.AuditEvent
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.AuditEvent{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
