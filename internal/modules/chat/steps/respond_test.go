package steps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/pkg/dbctx"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
	"github.com/AlPairo/temis-backend/internal/platform/qdrant"
)

type fakeMessageRepo struct {
	rows      []*types.ChatMessage
	appendErr error
}

func (f *fakeMessageRepo) Append(_ dbctx.Context, row *types.ChatMessage) (*types.ChatMessage, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	row.ID = uuid.New()
	row.Seq = int64(len(f.rows) + 1)
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeMessageRepo) ListByConversation(_ dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	for _, m := range f.rows {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageRepo) CountByConversation(_ dbctx.Context, conversationID uuid.UUID) (int64, error) {
	n, _ := f.ListByConversation(dbctx.Context{}, conversationID, 0)
	return int64(len(n)), nil
}

func (f *fakeMessageRepo) byRole(role string) []*types.ChatMessage {
	var out []*types.ChatMessage
	for _, m := range f.rows {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeRetrievalEventRepo struct {
	rows []*types.RetrievalEvent
}

func (f *fakeRetrievalEventRepo) Append(_ dbctx.Context, row *types.RetrievalEvent) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeRetrievalEventRepo) ListByConversation(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.RetrievalEvent, error) {
	return f.rows, nil
}

type fakeAuditRepo struct {
	rows      []*types.AuditEvent
	appendErr error
}

func (f *fakeAuditRepo) AppendEvent(_ dbctx.Context, row *types.AuditEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeAuditRepo) ListByConversation(_ dbctx.Context, _ uuid.UUID, _ int) ([]*types.AuditEvent, error) {
	return f.rows, nil
}

func (f *fakeAuditRepo) eventTypes() []string {
	out := make([]string, 0, len(f.rows))
	for _, e := range f.rows {
		out = append(out, e.EventType)
	}
	return out
}

type turnFixture struct {
	ai     *fakeAI
	vec    *fakeVector
	msgs   *fakeMessageRepo
	retr   *fakeRetrievalEventRepo
	audit  *fakeAuditRepo
	deps   RespondDeps
	convID uuid.UUID
	userID uuid.UUID
}

func newTurnFixture() *turnFixture {
	observability.Init()
	f := &turnFixture{
		ai:     &fakeAI{embedFn: embedOK},
		vec:    &fakeVector{},
		msgs:   &fakeMessageRepo{},
		retr:   &fakeRetrievalEventRepo{},
		audit:  &fakeAuditRepo{},
		convID: uuid.New(),
		userID: uuid.New(),
	}
	f.vec.searchFn = func(context.Context, string, qdrant.SearchRequest) ([]qdrant.ScoredPoint, error) {
		return []qdrant.ScoredPoint{
			point("c1", "ley1", "El plazo general de prescripción es de cinco años.", 0.9),
			point("c2", "ley2", "La acción hipotecaria prescribe a los veinte años.", 0.8),
		}, nil
	}
	f.deps = RespondDeps{
		Log: logger.NewNop(),
		AI:  f.ai,
		Retrieval: RetrieveDeps{
			Log:           logger.NewNop(),
			AI:            f.ai,
			Vector:        f.vec,
			Collection:    "legal_chunks",
			EmbedModel:    "text-embedding-3-small",
			CredentialSet: true,
		},
		Messages:   f.msgs,
		Retrievals: f.retr,
		Audit:      f.audit,
		Model:      "gpt-4o-mini",
	}
	return f
}

func (f *turnFixture) input(qt QueryType) RespondInput {
	return RespondInput{
		ConversationID: f.convID,
		UserID:         f.userID,
		Text:           "¿Cuál es el plazo de prescripción?",
		QueryType:      qt,
		DisableRerank:  true,
	}
}

func collect(ch <-chan ChatStreamEvent) []ChatStreamEvent {
	var out []ChatStreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func terminalCount(events []ChatStreamEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Type == EventComplete || ev.Type == EventError {
			n++
		}
	}
	return n
}

func TestStreamReplyNormalMode(t *testing.T) {
	f := newTurnFixture()
	f.ai.streamFn = func(context.Context, []openai.ChatMessage, func(openai.StreamChunk) error) error {
		t.Fatal("normal mode must never call the model")
		return nil
	}

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeNormal)))

	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d, want 1", terminalCount(events))
	}
	for _, ev := range events {
		if ev.Type == EventReasoning {
			t.Fatal("normal mode must emit no reasoning events")
		}
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s, want complete", last.Type)
	}
	if !strings.Contains(last.Content, "prescripción es de cinco años") {
		t.Fatalf("docs-only content missing excerpt: %q", last.Content)
	}
	if len(last.Citations) != 2 {
		t.Fatalf("citations = %d", len(last.Citations))
	}
	if last.MessageID == uuid.Nil {
		t.Fatal("terminal event must carry the assistant message id")
	}

	if got := len(f.msgs.byRole(types.RoleUser)); got != 1 {
		t.Fatalf("user messages persisted = %d", got)
	}
	if got := len(f.msgs.byRole(types.RoleAssistant)); got != 1 {
		t.Fatalf("assistant messages persisted = %d", got)
	}
	if len(f.retr.rows) != 1 {
		t.Fatalf("retrieval events persisted = %d", len(f.retr.rows))
	}
	wantAudit := []string{types.AuditChatStart, types.AuditChatComplete}
	if got := f.audit.eventTypes(); len(got) != 2 || got[0] != wantAudit[0] || got[1] != wantAudit[1] {
		t.Fatalf("audit trail = %v, want %v", got, wantAudit)
	}
}

func TestStreamReplyNormalModeNoDocuments(t *testing.T) {
	f := newTurnFixture()
	f.vec.searchFn = func(context.Context, string, qdrant.SearchRequest) ([]qdrant.ScoredPoint, error) {
		return nil, nil
	}

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeNormal)))
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s", last.Type)
	}
	if last.Content != noDocumentsMessage {
		t.Fatalf("content = %q, want fixed no-documents message", last.Content)
	}
	if !last.LowConfidence {
		t.Fatal("empty retrieval must be low confidence")
	}
}

func TestStreamReplyAnalysisSuccess(t *testing.T) {
	f := newTurnFixture()
	tokens := []string{"El plazo ", "es de cinco años ", "[ley1:c1]."}
	f.ai.streamFn = func(_ context.Context, msgs []openai.ChatMessage, onChunk func(openai.StreamChunk) error) error {
		if msgs[len(msgs)-1].Role != types.RoleUser {
			t.Fatal("user turn must be last in the prompt")
		}
		for _, tok := range tokens {
			if err := onChunk(openai.StreamChunk{Kind: openai.ChunkToken, Token: tok}); err != nil {
				return err
			}
		}
		return onChunk(openai.StreamChunk{Kind: openai.ChunkUsage, Usage: openai.TokenUsage{PromptTokens: 120, CompletionTokens: 18, TotalTokens: 138}})
	}

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeAnalysis)))

	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d, want 1", terminalCount(events))
	}

	wantStages := []ReasoningStage{
		StageRequestReceived,
		StageRetrievalStarted,
		StageRetrievalCompleted,
		StagePromptBuilt,
		StageModelGenerationStarted,
		StageFinalSynthesisCompleted,
	}
	var gotStages []ReasoningStage
	var gotTokens []string
	for _, ev := range events {
		switch ev.Type {
		case EventReasoning:
			gotStages = append(gotStages, ev.Reasoning.Stage)
		case EventToken:
			gotTokens = append(gotTokens, ev.Token)
		}
	}
	if len(gotStages) != len(wantStages) {
		t.Fatalf("reasoning stages = %v", gotStages)
	}
	for i, s := range wantStages {
		if gotStages[i] != s {
			t.Fatalf("stage[%d] = %s, want %s", i, gotStages[i], s)
		}
	}
	if len(gotTokens) != len(tokens) {
		t.Fatalf("tokens = %v", gotTokens)
	}

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s", last.Type)
	}
	wantContent := strings.Join(tokens, "")
	if last.Content != wantContent {
		t.Fatalf("content = %q, want %q", last.Content, wantContent)
	}

	assistants := f.msgs.byRole(types.RoleAssistant)
	if len(assistants) != 1 || assistants[0].Content != wantContent {
		t.Fatalf("assistant message not persisted correctly: %+v", assistants)
	}
	if assistants[0].Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", assistants[0].Model)
	}

	want := []string{types.AuditChatStart, types.AuditChatModelCall, types.AuditChatComplete}
	got := f.audit.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("audit trail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStreamReplyModelFailureMidStream(t *testing.T) {
	f := newTurnFixture()
	f.ai.streamFn = func(_ context.Context, _ []openai.ChatMessage, onChunk func(openai.StreamChunk) error) error {
		if err := onChunk(openai.StreamChunk{Kind: openai.ChunkToken, Token: "El plazo"}); err != nil {
			return err
		}
		return errors.New("model connection reset by peer")
	}

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeAnalysis)))

	if terminalCount(events) != 1 {
		t.Fatalf("terminal events = %d, want 1", terminalCount(events))
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("terminal = %s, want error", last.Type)
	}
	if last.SafeMessage != safeMessageInfra {
		t.Fatalf("safeMessage = %q, want infrastructure message", last.SafeMessage)
	}

	sawToken := false
	for _, ev := range events {
		if ev.Type == EventToken {
			sawToken = true
		}
	}
	if !sawToken {
		t.Fatal("tokens emitted before the failure must still reach the caller")
	}

	if got := len(f.msgs.byRole(types.RoleUser)); got != 1 {
		t.Fatalf("user message must persist even when the turn fails, got %d", got)
	}
	if got := len(f.msgs.byRole(types.RoleAssistant)); got != 0 {
		t.Fatalf("assistant messages = %d, want 0", got)
	}

	want := []string{types.AuditChatStart, types.AuditChatModelCall, types.AuditChatError}
	got := f.audit.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("audit trail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStreamReplyCancelledMidStream(t *testing.T) {
	f := newTurnFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.ai.streamFn = func(_ context.Context, _ []openai.ChatMessage, onChunk func(openai.StreamChunk) error) error {
		if err := onChunk(openai.StreamChunk{Kind: openai.ChunkToken, Token: "El plazo"}); err != nil {
			return err
		}
		cancel()
		err := onChunk(openai.StreamChunk{Kind: openai.ChunkToken, Token: " es de"})
		if err == nil {
			t.Error("emitting after cancellation must abort the stream")
		}
		return err
	}

	events := collect(StreamReply(ctx, f.deps, f.input(QueryTypeAnalysis)))

	if got := terminalCount(events); got != 0 {
		t.Fatalf("terminal events after cancellation = %d, want 0", got)
	}
	var gotTokens []string
	for _, ev := range events {
		if ev.Type == EventToken {
			gotTokens = append(gotTokens, ev.Token)
		}
	}
	if len(gotTokens) != 1 || gotTokens[0] != "El plazo" {
		t.Fatalf("tokens forwarded = %v, want only the pre-cancel token", gotTokens)
	}

	if got := len(f.msgs.byRole(types.RoleUser)); got != 1 {
		t.Fatalf("user messages persisted = %d, want 1", got)
	}
	if got := len(f.msgs.byRole(types.RoleAssistant)); got != 0 {
		t.Fatalf("assistant messages persisted after cancellation = %d, want 0", got)
	}
}

func TestStreamReplyRetrieverDownEmitsSafeError(t *testing.T) {
	f := newTurnFixture()
	f.deps.Retrieval.Collection = ""

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeNormal)))
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("terminal = %s", last.Type)
	}
	if last.SafeMessage != safeMessageInfra {
		t.Fatalf("safeMessage = %q", last.SafeMessage)
	}
	if strings.Contains(last.SafeMessage, "collection") {
		t.Fatal("raw error text must never reach the caller")
	}
}

func TestStreamReplyAuditFailureDoesNotAbort(t *testing.T) {
	f := newTurnFixture()
	f.audit.appendErr = errors.New("audit store down")

	events := collect(StreamReply(context.Background(), f.deps, f.input(QueryTypeNormal)))
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("terminal = %s, audit failures must not abort the turn", last.Type)
	}
}
