package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type MessageRepo interface {
	// Append assigns the next seq within the conversation and persists the row.
	Append(dbc dbctx.Context, row *types.ChatMessage) (*types.ChatMessage, error)
	// ListByConversation returns messages in creation order (seq ASC).
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error)
	CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Append(dbc dbctx.Context, row *types.ChatMessage) (*types.ChatMessage, error) {
	if row == nil {
		return nil, fmt.Errorf("missing message")
	}
	if row.ConversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	err := txx.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.
			Model(&types.ChatMessage{}).
			Select("COALESCE(MAX(seq), 0)").
			Where("conversation_id = ?", row.ConversationID).
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		row.Seq = maxSeq + 1
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
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
	var out []*types.ChatMessage
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatMessage{}).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	// Normalize to ASC for prompt assembly.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	if conversationID == uuid.Nil {
		return 0, fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
