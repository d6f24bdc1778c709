package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

const rerankCandidateExcerptChars = 600

const rerankJudgeSystem = `Eres un juez de relevancia para un sistema de búsqueda legal. Dada una consulta y una lista de fragmentos candidatos, selecciona los identificadores de los fragmentos más relevantes, del más al menos relevante. Devuelve solo identificadores que aparezcan en la lista.`

type RerankDeps struct {
	Log *logger.Logger
	AI  openai.Client
}

// Rerank asks an LLM judge to reorder candidates and returns up to
// finalTopK chunks. The judge's selection is deduplicated preserving
// first-seen order and padded from the original candidate order, so the
// output length is always min(finalTopK, len(candidates)).
func Rerank(ctx context.Context, deps RerankDeps, query string, candidates []RetrievedChunk, finalTopK int) ([]RetrievedChunk, error) {
	if deps.AI == nil {
		return nil, &RerankerError{Reason: "llm client not configured"}
	}
	if finalTopK < 1 {
		finalTopK = 1
	}
	if len(candidates) <= 1 {
		out := make([]RetrievedChunk, len(candidates))
		copy(out, candidates)
		if len(out) > finalTopK {
			out = out[:finalTopK]
		}
		return out, nil
	}

	start := time.Now()
	if m := observability.Current(); m != nil {
		m.IncRerankCall()
	}

	byTempID := make(map[string]int, len(candidates))
	var prompt strings.Builder
	prompt.WriteString("Consulta:\n")
	prompt.WriteString(strings.TrimSpace(query))
	prompt.WriteString("\n\nCandidatos:\n")
	for i, ch := range candidates {
		tempID := fmt.Sprintf("cand_%d", i+1)
		byTempID[tempID] = i
		prompt.WriteString(tempID)
		prompt.WriteString(": ")
		prompt.WriteString(trimExcerpt(ch.Text, rerankCandidateExcerptChars))
		prompt.WriteString("\n")
	}
	prompt.WriteString(fmt.Sprintf("\nSelecciona hasta %d identificadores en orden de relevancia.", finalTopK))

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selected_ids": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required":             []string{"selected_ids"},
		"additionalProperties": false,
	}

	obj, err := deps.AI.GenerateJSON(ctx, rerankJudgeSystem, prompt.String(), "rerank_selection", schema)
	if err != nil {
		return nil, &RerankerError{Reason: "judge call failed", Cause: err}
	}

	rawIDs, ok := obj["selected_ids"].([]any)
	if !ok {
		return nil, &RerankerError{Reason: "schema mismatch: selected_ids missing or not an array"}
	}

	selected := make([]RetrievedChunk, 0, finalTopK)
	picked := make(map[int]bool, finalTopK)
	unresolved := 0
	for _, raw := range rawIDs {
		id, ok := raw.(string)
		if !ok {
			return nil, &RerankerError{Reason: "schema mismatch: selected_ids entry is not a string"}
		}
		idx, ok := byTempID[strings.TrimSpace(id)]
		if !ok {
			unresolved++
			continue
		}
		if picked[idx] {
			continue
		}
		picked[idx] = true
		selected = append(selected, candidates[idx])
		if len(selected) >= finalTopK {
			break
		}
	}

	// Pad from original vector order so the judge selecting too few never
	// shrinks the result below min(finalTopK, len(candidates)).
	for i := 0; len(selected) < finalTopK && i < len(candidates); i++ {
		if picked[i] {
			continue
		}
		picked[i] = true
		selected = append(selected, candidates[i])
	}

	if deps.Log != nil {
		deps.Log.Info("rerank completed",
			"candidates", len(candidates),
			"judge_selected", len(rawIDs),
			"unresolved", unresolved,
			"result", len(selected),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
	return selected, nil
}
