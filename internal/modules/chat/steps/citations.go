package steps

import (
	"fmt"
	"strings"
)

// BuildCitations derives stable citation ids from the final chunk order.
// Pure and deterministic: identical input always yields identical output.
func BuildCitations(chunks []RetrievedChunk) []Citation {
	out := make([]Citation, 0, len(chunks))
	seen := make(map[string]int, len(chunks))
	for _, ch := range chunks {
		id := sanitizeIDPart(ch.DocID) + ":" + sanitizeIDPart(ch.ChunkID)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s:%d", id, n)
		}

		c := Citation{
			ID:      id,
			DocID:   ch.DocID,
			ChunkID: ch.ChunkID,
			Score:   ch.Score,
		}
		if v := metadataString(ch.Metadata, "source"); v != "" {
			c.Source = v
		}
		if v := metadataString(ch.Metadata, "jurisdiction"); v != "" {
			c.Jurisdiction = v
		}
		if v := metadataString(ch.Metadata, "effective_date"); v != "" {
			c.EffectiveDate = v
		}
		out = append(out, c)
	}
	return out
}

func sanitizeIDPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func metadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
