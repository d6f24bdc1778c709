package steps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

type fakeAI struct {
	embedFn    func(ctx context.Context, input, model string) ([]float32, error)
	generateFn func(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	streamFn   func(ctx context.Context, messages []openai.ChatMessage, onChunk func(openai.StreamChunk) error) error

	lastUser string
}

func (f *fakeAI) Embed(ctx context.Context, input, model string) ([]float32, error) {
	if f.embedFn == nil {
		return nil, errors.New("embed not stubbed")
	}
	return f.embedFn(ctx, input, model)
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.lastUser = user
	if f.generateFn == nil {
		return nil, errors.New("generate not stubbed")
	}
	return f.generateFn(ctx, system, user, schemaName, schema)
}

func (f *fakeAI) StreamChat(ctx context.Context, messages []openai.ChatMessage, onChunk func(openai.StreamChunk) error) error {
	if f.streamFn == nil {
		return errors.New("stream not stubbed")
	}
	return f.streamFn(ctx, messages, onChunk)
}

func rerankCandidates(n int) []RetrievedChunk {
	out := make([]RetrievedChunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RetrievedChunk{
			DocID:   "doc",
			ChunkID: string(rune('a' + i)),
			Text:    "fragmento " + string(rune('a'+i)),
			Score:   1.0 - float64(i)*0.1,
		})
	}
	return out
}

func TestRerankOrdersByJudgeSelection(t *testing.T) {
	observability.Init()
	ai := &fakeAI{
		generateFn: func(_ context.Context, _, _, schemaName string, _ map[string]any) (map[string]any, error) {
			if schemaName != "rerank_selection" {
				t.Fatalf("schema name = %q", schemaName)
			}
			return map[string]any{"selected_ids": []any{"cand_3", "cand_1"}}, nil
		},
	}
	deps := RerankDeps{Log: logger.NewNop(), AI: ai}

	got, err := Rerank(context.Background(), deps, "plazo de prescripción", rerankCandidates(4), 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ChunkID != "c" || got[1].ChunkID != "a" {
		t.Fatalf("order = %s,%s, want c,a", got[0].ChunkID, got[1].ChunkID)
	}
	if !strings.Contains(ai.lastUser, "cand_4") {
		t.Fatalf("judge prompt missing candidate ids: %q", ai.lastUser)
	}
}

func TestRerankPadsFromOriginalOrder(t *testing.T) {
	ai := &fakeAI{
		generateFn: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
			// Judge picks one, repeats it, and invents an unknown id.
			return map[string]any{"selected_ids": []any{"cand_2", "cand_2", "cand_99"}}, nil
		},
	}
	got, err := Rerank(context.Background(), RerankDeps{AI: ai}, "q", rerankCandidates(4), 3)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"b", "a", "c"}
	for i, w := range want {
		if got[i].ChunkID != w {
			t.Fatalf("got[%d] = %s, want %s", i, got[i].ChunkID, w)
		}
	}
}

func TestRerankSchemaMismatch(t *testing.T) {
	cases := []struct {
		name string
		obj  map[string]any
	}{
		{"missing key", map[string]any{"ids": []any{"cand_1"}}},
		{"wrong type", map[string]any{"selected_ids": "cand_1"}},
		{"non-string entry", map[string]any{"selected_ids": []any{1.0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{
				generateFn: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
					return tc.obj, nil
				},
			}
			_, err := Rerank(context.Background(), RerankDeps{AI: ai}, "q", rerankCandidates(3), 2)
			var rerr *RerankerError
			if !errors.As(err, &rerr) {
				t.Fatalf("err = %v, want *RerankerError", err)
			}
		})
	}
}

func TestRerankJudgeCallFailure(t *testing.T) {
	cause := errors.New("upstream down")
	ai := &fakeAI{
		generateFn: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
			return nil, cause
		},
	}
	_, err := Rerank(context.Background(), RerankDeps{AI: ai}, "q", rerankCandidates(3), 2)
	var rerr *RerankerError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RerankerError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
}

func TestRerankSingleCandidateSkipsModel(t *testing.T) {
	ai := &fakeAI{
		generateFn: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
			t.Fatal("model must not be called for a single candidate")
			return nil, nil
		},
	}
	got, err := Rerank(context.Background(), RerankDeps{AI: ai}, "q", rerankCandidates(1), 5)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "a" {
		t.Fatalf("got %+v", got)
	}

	got, err = Rerank(context.Background(), RerankDeps{AI: ai}, "q", nil, 0)
	if err != nil {
		t.Fatalf("Rerank empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}
