package steps

import (
	"fmt"
	"strings"

	types "github.com/AlPairo/temis-backend/internal/domain"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

const maxHistoryMessages = 16

const systemGuardrail = `Eres Temis, un asistente jurídico. Respondes únicamente sobre la base de los fragmentos de documentos legales proporcionados. Si los fragmentos no contienen la información necesaria, lo dices con claridad. Nunca inventas artículos, sentencias ni fechas. No ofreces asesoramiento legal vinculante: recuerdas al usuario que consulte con un abogado colegiado para decisiones importantes.`

const citationContract = `Contrato de citas (obligatorio): cada afirmación basada en los fragmentos debe terminar con el identificador de cita entre corchetes, por ejemplo [ley_29_1994:art_5]. Usa solo los identificadores listados en el contexto de recuperación. No cites identificadores que no aparezcan en el contexto.`

// PromptInput carries everything BuildPrompt needs. History is the stored
// conversation in creation order; the current user turn travels separately
// in UserText and is always placed last.
type PromptInput struct {
	History   []*types.ChatMessage
	Retrieval RetrievalResult
	UserText  string
	QueryType QueryType
}

type Prompt struct {
	SystemPrompt string
	Messages     []openai.ChatMessage
}

// BuildPrompt assembles the bounded message sequence: guardrail, filtered
// history, retrieval context, citation contract (analysis only), user turn.
// Pure: no I/O, identical input yields identical output.
func BuildPrompt(in PromptInput) Prompt {
	history := filterHistory(in.History)

	msgs := make([]openai.ChatMessage, 0, len(history)+4)
	msgs = append(msgs, openai.ChatMessage{Role: types.RoleSystem, Content: systemGuardrail})
	msgs = append(msgs, history...)
	msgs = append(msgs, openai.ChatMessage{
		Role:    types.RoleSystem,
		Content: renderRetrievalContext(in.Retrieval),
	})
	if in.QueryType == QueryTypeAnalysis {
		msgs = append(msgs, openai.ChatMessage{Role: types.RoleSystem, Content: citationContract})
	}
	msgs = append(msgs, openai.ChatMessage{Role: types.RoleUser, Content: in.UserText})

	return Prompt{SystemPrompt: systemGuardrail, Messages: msgs}
}

// filterHistory keeps system/user/assistant roles, drops tool messages,
// and bounds the window to the most recent entries (oldest dropped first).
func filterHistory(history []*types.ChatMessage) []openai.ChatMessage {
	kept := make([]openai.ChatMessage, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
			kept = append(kept, openai.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	if len(kept) > maxHistoryMessages {
		kept = kept[len(kept)-maxHistoryMessages:]
	}
	return kept
}

func renderRetrievalContext(ret RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Contexto de recuperación (fragmentos de documentos legales):\n")
	if len(ret.Chunks) == 0 {
		b.WriteString("(none)\n")
	} else {
		for i, ch := range ret.Chunks {
			citationID := ""
			if i < len(ret.Citations) {
				citationID = ret.Citations[i].ID
			}
			b.WriteString(fmt.Sprintf("[%s] (score %.2f)\n", citationID, ch.Score))
			b.WriteString(trimExcerpt(ch.Text, 900))
			b.WriteString("\n\n")
		}
	}
	if ret.LowConfidence {
		b.WriteString("Aviso: la recuperación tiene baja confianza; trata estos fragmentos con cautela.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func trimExcerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
