package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	auditrepo "github.com/AlPairo/temis-backend/internal/data/repos/audit"
	chatrepo "github.com/AlPairo/temis-backend/internal/data/repos/chat"
	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/modules/chat/steps"
	"github.com/AlPairo/temis-backend/internal/pkg/ctxutil"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

// Service is the chat module facade consumed by the HTTP layer. All
// collaborators are resolved once at construction and never mutated.
type Service struct {
	log           *logger.Logger
	ai            openai.Client
	conversations chatrepo.ConversationRepo
	messages      chatrepo.MessageRepo
	retrievals    chatrepo.RetrievalEventRepo
	audit         auditrepo.EventRepo
	retrieval     steps.RetrieveDeps
	model         string
}

type ServiceDeps struct {
	Log           *logger.Logger
	AI            openai.Client
	Conversations chatrepo.ConversationRepo
	Messages      chatrepo.MessageRepo
	Retrievals    chatrepo.RetrievalEventRepo
	Audit         auditrepo.EventRepo
	Retrieval     steps.RetrieveDeps
	Model         string
}

func NewService(d ServiceDeps) (*Service, error) {
	switch {
	case d.Log == nil:
		return nil, fmt.Errorf("missing logger")
	case d.AI == nil:
		return nil, fmt.Errorf("missing llm client")
	case d.Conversations == nil, d.Messages == nil, d.Retrievals == nil, d.Audit == nil:
		return nil, fmt.Errorf("missing repositories")
	}
	return &Service{
		log:           d.Log.With("service", "ChatService"),
		ai:            d.AI,
		conversations: d.Conversations,
		messages:      d.Messages,
		retrievals:    d.Retrievals,
		audit:         d.Audit,
		retrieval:     d.Retrieval,
		model:         d.Model,
	}, nil
}

func (s *Service) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	return s.conversations.Create(dbctx.Context{Ctx: ctxutil.Default(ctx)}, &types.Conversation{
		UserID: userID,
		Title:  title,
	})
}

func (s *Service) GetConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error) {
	return s.conversations.GetByID(dbctx.Context{Ctx: ctxutil.Default(ctx)}, id)
}

func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Conversation, error) {
	return s.conversations.ListByUser(dbctx.Context{Ctx: ctxutil.Default(ctx)}, userID, limit)
}

func (s *Service) GetConversationMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	return s.messages.ListByConversation(dbctx.Context{Ctx: ctxutil.Default(ctx)}, conversationID, limit)
}

func (s *Service) GetRetrievalEvents(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.RetrievalEvent, error) {
	return s.retrievals.ListByConversation(dbctx.Context{Ctx: ctxutil.Default(ctx)}, conversationID, limit)
}

func (s *Service) GetAuditTrail(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.AuditEvent, error) {
	return s.audit.ListByConversation(dbctx.Context{Ctx: ctxutil.Default(ctx)}, conversationID, limit)
}

// StreamReply validates ownership, kicks off best-effort titling for
// fresh conversations, and hands the turn to the orchestrator.
func (s *Service) StreamReply(ctx context.Context, in steps.RespondInput) (<-chan steps.ChatStreamEvent, error) {
	ctx = ctxutil.Default(ctx)
	if in.ConversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}

	conv, err := s.conversations.GetByID(dbctx.Context{Ctx: ctx}, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conv.UserID != in.UserID {
		return nil, fmt.Errorf("conversation does not belong to user")
	}

	if conv.Title == "" {
		go s.ensureTitle(conv.ID, in.Text)
	}

	return steps.StreamReply(ctx, steps.RespondDeps{
		Log:        s.log,
		AI:         s.ai,
		Retrieval:  s.retrieval,
		Messages:   s.messages,
		Retrievals: s.retrievals,
		Audit:      s.audit,
		Model:      s.model,
	}, in), nil
}

// ensureTitle runs detached from the request so titling latency never
// delays the first token.
func (s *Service) ensureTitle(conversationID uuid.UUID, firstUserText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	title := steps.GenerateTitle(ctx, steps.TitleDeps{Log: s.log, AI: s.ai}, firstUserText)
	if title == "" {
		return
	}
	err := s.conversations.UpdateFields(dbctx.Context{Ctx: ctx}, conversationID, map[string]interface{}{
		"title": title,
	})
	if err != nil {
		s.log.Warn("conversation title update failed", "conversation_id", conversationID.String(), "error", err)
	}
}
