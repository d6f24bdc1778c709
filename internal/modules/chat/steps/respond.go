package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	auditrepo "github.com/AlPairo/temis-backend/internal/data/repos/audit"
	chatrepo "github.com/AlPairo/temis-backend/internal/data/repos/chat"
	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/pkg/ctxutil"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

const streamBuffer = 16

var errStreamAborted = errors.New("stream aborted by caller")

type RespondDeps struct {
	Log *logger.Logger
	AI  openai.Client

	Retrieval RetrieveDeps

	Messages   chatrepo.MessageRepo
	Retrievals chatrepo.RetrievalEventRepo
	Audit      auditrepo.EventRepo

	// Model is recorded on assistant messages for traceability.
	Model string
}

type RespondInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Text           string
	QueryType      QueryType
	Filters        RetrievalFilters
	TopK           int
	DisableRerank  bool
}

// StreamReply runs one chat turn and streams typed events on the returned
// channel. The channel always carries at most one terminal event (complete
// or error) and is closed when the turn finishes or the context is
// cancelled. Persistence and audit writes already issued are not rolled
// back on cancellation.
func StreamReply(ctx context.Context, deps RespondDeps, in RespondInput) <-chan ChatStreamEvent {
	ctx = ctxutil.Default(ctx)
	out := make(chan ChatStreamEvent, streamBuffer)
	go func() {
		defer close(out)
		runTurn(ctx, deps, in, out)
	}()
	return out
}

func runTurn(ctx context.Context, deps RespondDeps, in RespondInput, out chan<- ChatStreamEvent) {
	start := time.Now()
	if m := observability.Current(); m != nil {
		m.IncChatRequest()
	}

	queryType := in.QueryType
	if queryType == "" {
		queryType = QueryTypeNormal
	}
	analysis := queryType == QueryTypeAnalysis
	query := strings.TrimSpace(in.Text)
	dbc := dbctx.Context{Ctx: ctx}
	log := deps.Log.With(
		"conversation_id", in.ConversationID.String(),
		"user_id", in.UserID.String(),
		"query_type", string(queryType),
	)

	emit := func(ev ChatStreamEvent) bool {
		// A cancelled context must never race a buffered send: once the
		// caller is gone the stream stays silent.
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case out <- ev:
			return true
		}
	}
	reason := func(stage ReasoningStage, step, detail string) bool {
		if !analysis {
			return true
		}
		return emit(ChatStreamEvent{Type: EventReasoning, Reasoning: &ReasoningTraceItem{
			Stage:  stage,
			Step:   step,
			Detail: detail,
			TS:     time.Now().UTC().Format(time.RFC3339Nano),
		}})
	}
	fail := func(stage string, err error) {
		if m := observability.Current(); m != nil {
			m.IncChatError()
		}
		log.Error("chat turn failed", "stage", stage, "error", err)
		appendAudit(dbc, deps, log, in, types.AuditChatError, map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		emit(ChatStreamEvent{Type: EventError, SafeMessage: SafeMessage(err)})
	}

	appendAudit(dbc, deps, log, in, types.AuditChatStart, map[string]any{
		"query_type": string(queryType),
	})

	if !reason(StageRequestReceived, "Consulta recibida", "") {
		return
	}

	userMsg, err := deps.Messages.Append(dbc, &types.ChatMessage{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           types.RoleUser,
		Content:        in.Text,
	})
	if err != nil {
		fail("append_user_message", err)
		return
	}

	if !reason(StageRetrievalStarted, "Buscando documentos relevantes", "") {
		return
	}
	retrieval, err := Retrieve(ctx, deps.Retrieval, RetrieveInput{
		Query:         query,
		Filters:       in.Filters,
		TopK:          in.TopK,
		DisableRerank: in.DisableRerank,
	})
	if err != nil {
		fail("retrieve", err)
		return
	}
	if err := appendRetrievalEvent(dbc, deps, in, query, retrieval); err != nil {
		fail("append_retrieval_event", err)
		return
	}
	if !reason(StageRetrievalCompleted, "Recuperación completada",
		fmt.Sprintf("%d fragmentos, baja confianza: %v", len(retrieval.Chunks), retrieval.LowConfidence)) {
		return
	}

	if !analysis {
		completeNormal(ctx, deps, in, retrieval, dbc, log, start, emit, fail)
		return
	}

	history, err := loadHistory(dbc, deps, in.ConversationID, userMsg.ID)
	if err != nil {
		fail("load_history", err)
		return
	}
	prompt := BuildPrompt(PromptInput{
		History:   history,
		Retrieval: retrieval,
		UserText:  query,
		QueryType: queryType,
	})
	if !reason(StagePromptBuilt, "Prompt construido",
		fmt.Sprintf("%d mensajes", len(prompt.Messages))) {
		return
	}

	appendAudit(dbc, deps, log, in, types.AuditChatModelCall, map[string]any{
		"model":    deps.Model,
		"messages": len(prompt.Messages),
	})
	if !reason(StageModelGenerationStarted, "Generando respuesta", "") {
		return
	}

	var content strings.Builder
	var usage openai.TokenUsage
	streamErr := deps.AI.StreamChat(ctx, prompt.Messages, func(chunk openai.StreamChunk) error {
		switch chunk.Kind {
		case openai.ChunkToken:
			if chunk.Token == "" {
				return nil
			}
			content.WriteString(chunk.Token)
			if !emit(ChatStreamEvent{Type: EventToken, Token: chunk.Token}) {
				return errStreamAborted
			}
		case openai.ChunkUsage:
			usage = chunk.Usage
		}
		return nil
	})
	if streamErr != nil {
		if errors.Is(streamErr, errStreamAborted) || ctx.Err() != nil {
			log.Info("stream aborted by caller")
			return
		}
		fail("stream_tokens", streamErr)
		return
	}
	if m := observability.Current(); m != nil {
		m.AddTokenUsage(usage.PromptTokens, usage.CompletionTokens)
	}

	if !reason(StageFinalSynthesisCompleted, "Síntesis final completada", "") {
		return
	}

	assistant, err := deps.Messages.Append(dbc, &types.ChatMessage{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           types.RoleAssistant,
		Content:        content.String(),
		Model:          deps.Model,
		Metadata:       mustJSON(map[string]any{"citations": retrieval.Citations, "low_confidence": retrieval.LowConfidence}),
	})
	if err != nil {
		fail("append_assistant_message", err)
		return
	}

	appendAudit(dbc, deps, log, in, types.AuditChatComplete, map[string]any{
		"latency_ms":        time.Since(start).Milliseconds(),
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
	})
	if m := observability.Current(); m != nil {
		m.IncChatComplete()
	}
	emit(ChatStreamEvent{
		Type:          EventComplete,
		MessageID:     assistant.ID,
		Content:       content.String(),
		Citations:     retrieval.Citations,
		LowConfidence: retrieval.LowConfidence,
	})
}

// completeNormal renders the deterministic docs-only reply: the retrieved
// excerpts themselves, no model call.
func completeNormal(
	ctx context.Context,
	deps RespondDeps,
	in RespondInput,
	retrieval RetrievalResult,
	dbc dbctx.Context,
	log *logger.Logger,
	start time.Time,
	emit func(ChatStreamEvent) bool,
	fail func(string, error),
) {
	content := composeDocsOnly(retrieval)
	assistant, err := deps.Messages.Append(dbc, &types.ChatMessage{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           types.RoleAssistant,
		Content:        content,
		Metadata:       mustJSON(map[string]any{"citations": retrieval.Citations, "low_confidence": retrieval.LowConfidence}),
	})
	if err != nil {
		fail("append_assistant_message", err)
		return
	}
	appendAudit(dbc, deps, log, in, types.AuditChatComplete, map[string]any{
		"latency_ms": time.Since(start).Milliseconds(),
		"docs_only":  true,
	})
	if m := observability.Current(); m != nil {
		m.IncChatComplete()
	}
	emit(ChatStreamEvent{
		Type:          EventComplete,
		MessageID:     assistant.ID,
		Content:       content,
		Citations:     retrieval.Citations,
		LowConfidence: retrieval.LowConfidence,
	})
}

func composeDocsOnly(retrieval RetrievalResult) string {
	if len(retrieval.Chunks) == 0 {
		return noDocumentsMessage
	}
	var b strings.Builder
	b.WriteString("Fragmentos relevantes encontrados:\n")
	for i, ch := range retrieval.Chunks {
		var id string
		if i < len(retrieval.Citations) {
			id = retrieval.Citations[i].ID
		}
		b.WriteString(fmt.Sprintf("\n[%s]\n%s\n", id, trimExcerpt(ch.Text, 900)))
	}
	if retrieval.LowConfidence {
		b.WriteString("\nAviso: la relevancia de estos fragmentos es baja para tu consulta.")
	}
	return b.String()
}

// loadHistory reads prior turns after the current user message was
// persisted, dropping that message so the prompt builder can place the
// user turn itself.
func loadHistory(dbc dbctx.Context, deps RespondDeps, conversationID, currentUserMsgID uuid.UUID) ([]*types.ChatMessage, error) {
	msgs, err := deps.Messages.ListByConversation(dbc, conversationID, maxHistoryMessages+1)
	if err != nil {
		return nil, err
	}
	out := make([]*types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == currentUserMsgID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func appendRetrievalEvent(dbc dbctx.Context, deps RespondDeps, in RespondInput, query string, retrieval RetrievalResult) error {
	return deps.Retrievals.Append(dbc, &types.RetrievalEvent{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Query:          query,
		LatencyMs:      retrieval.LatencyMs,
		LowConfidence:  retrieval.LowConfidence,
		Chunks:         mustJSON(retrieval.Chunks),
		Citations:      mustJSON(retrieval.Citations),
	})
}

// appendAudit is fire-and-forget: failures are logged and counted, never
// surfaced to the caller.
func appendAudit(dbc dbctx.Context, deps RespondDeps, log *logger.Logger, in RespondInput, eventType string, payload map[string]any) {
	err := deps.Audit.AppendEvent(dbc, &types.AuditEvent{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		EventType:      eventType,
		Payload:        mustJSON(payload),
	})
	if err != nil {
		if m := observability.Current(); m != nil {
			m.IncAuditAppendError()
		}
		if log != nil {
			log.Warn("audit append failed", "event_type", eventType, "error", err)
		}
	}
}

func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}
