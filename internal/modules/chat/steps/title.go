package steps

import (
	"context"
	"strings"

	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
)

const maxTitleChars = 80

const titleSystem = `Genera un título corto y descriptivo (máximo 8 palabras, en el idioma de la consulta) para una conversación con un asistente legal, a partir de la primera consulta del usuario. Sin comillas ni punto final.`

type TitleDeps struct {
	Log *logger.Logger
	AI  openai.Client
}

// GenerateTitle produces a short conversation title from the first user
// message. Best effort: any failure falls back to a clipped version of
// the query itself.
func GenerateTitle(ctx context.Context, deps TitleDeps, firstUserText string) string {
	fallback := clipTitle(strings.TrimSpace(firstUserText))
	if deps.AI == nil || fallback == "" {
		return fallback
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required":             []string{"title"},
		"additionalProperties": false,
	}
	obj, err := deps.AI.GenerateJSON(ctx, titleSystem, firstUserText, "conversation_title", schema)
	if err != nil {
		if deps.Log != nil {
			deps.Log.Warn("title generation failed", "error", err)
		}
		return fallback
	}
	title, _ := obj["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return fallback
	}
	return clipTitle(title)
}

func clipTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTitleChars {
		return s
	}
	return strings.TrimSpace(string(runes[:maxTitleChars-1])) + "…"
}
