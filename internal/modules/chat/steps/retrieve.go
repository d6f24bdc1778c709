package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
	"github.com/AlPairo/temis-backend/internal/platform/qdrant"
	"github.com/AlPairo/temis-backend/internal/platform/rediscache"
)

const (
	defaultTopK      = 5
	minCandidateK    = 20
	lowConfidenceBar = 0.35
)

// Payload key fallbacks, legacy ingesters used different names. First
// non-empty value wins.
var (
	docIDKeys   = []string{"doc_id", "document_id", "docId", "source_id", "file_id"}
	chunkIDKeys = []string{"chunk_id", "chunkId", "chunk", "fragment_id"}
	textKeys    = []string{"text", "content", "chunk_text", "body", "excerpt"}
)

type RetrieveDeps struct {
	Log        *logger.Logger
	AI         openai.Client
	Vector     qdrant.Client
	Collection string
	EmbedModel string
	// CredentialSet reports whether the embedding credential is configured.
	CredentialSet bool
	// Cache is optional; when set, embeddings are looked up before
	// calling the provider.
	Cache rediscache.EmbeddingCache
}

type RetrieveInput struct {
	Query         string
	Filters       RetrievalFilters
	TopK          int
	DisableRerank bool
	EmbedModel    string
}

// Retrieve runs the full search pipeline: embed, vector search, payload
// normalization, optional rerank, citations. Reranker failures degrade
// to vector-score order; infrastructure failures surface as
// RetrieverHealthError.
func Retrieve(ctx context.Context, deps RetrieveDeps, in RetrieveInput) (RetrievalResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return RetrievalResult{Chunks: []RetrievedChunk{}, Citations: []Citation{}, LowConfidence: true}, nil
	}
	if deps.Collection == "" {
		return RetrievalResult{}, &RetrieverHealthError{Reason: "vector collection not configured"}
	}
	if !deps.CredentialSet {
		return RetrievalResult{}, &RetrieverHealthError{Reason: "embedding credential not configured"}
	}

	start := time.Now()

	// Zero means unset and takes the default; anything the caller did set
	// is clamped to at least one result.
	topK := in.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	if topK < 1 {
		topK = 1
	}
	candidateK := topK
	if candidateK < minCandidateK {
		candidateK = minCandidateK
	}

	model := in.EmbedModel
	if model == "" {
		model = deps.EmbedModel
	}

	vector, err := embedQuery(ctx, deps, query, model)
	if err != nil {
		return RetrievalResult{}, err
	}

	req := qdrant.SearchRequest{
		Vector:      vector,
		Limit:       candidateK,
		Must:        filterClauses(in.Filters),
		WithPayload: true,
	}
	points, err := deps.Vector.Search(ctx, deps.Collection, req)
	if err != nil {
		return RetrievalResult{}, &RetrieverHealthError{Reason: fmt.Sprintf("vector search failed: %v", err), Cause: err}
	}

	candidates := make([]RetrievedChunk, 0, len(points))
	dropped := 0
	for _, pt := range points {
		ch, ok := chunkFromPoint(pt)
		if !ok {
			dropped++
			continue
		}
		candidates = append(candidates, ch)
	}

	chunks := candidates
	if !in.DisableRerank && len(candidates) > 1 {
		reranked, rerr := Rerank(ctx, RerankDeps{Log: deps.Log, AI: deps.AI}, query, candidates, topK)
		if rerr != nil {
			if m := observability.Current(); m != nil {
				m.IncRerankFallback()
			}
			if deps.Log != nil {
				deps.Log.Warn("rerank failed, falling back to vector order", "error", rerr)
			}
			chunks = clipChunks(candidates, topK)
		} else {
			chunks = reranked
		}
	} else {
		chunks = clipChunks(candidates, topK)
	}

	low := len(chunks) == 0
	if !low {
		low = true
		for _, ch := range chunks {
			if ch.Score >= lowConfidenceBar {
				low = false
				break
			}
		}
	}
	latency := time.Since(start)
	if m := observability.Current(); m != nil {
		m.ObserveRetrieval(latency, low)
	}
	if deps.Log != nil {
		deps.Log.Info("retrieval completed",
			"raw_points", len(points),
			"dropped", dropped,
			"candidates", len(candidates),
			"result", len(chunks),
			"low_confidence", low,
			"latency_ms", latency.Milliseconds(),
		)
	}

	return RetrievalResult{
		Chunks:        chunks,
		Citations:     BuildCitations(chunks),
		LatencyMs:     latency.Milliseconds(),
		LowConfidence: low,
	}, nil
}

func embedQuery(ctx context.Context, deps RetrieveDeps, query, model string) ([]float32, error) {
	if deps.Cache != nil {
		if vec, ok := deps.Cache.Get(ctx, model, query); ok {
			return vec, nil
		}
	}
	vec, err := deps.AI.Embed(ctx, query, model)
	if err != nil {
		return nil, &RetrieverHealthError{Reason: fmt.Sprintf("embedding failed: %v", err), Cause: err}
	}
	if len(vec) == 0 {
		return nil, &RetrieverHealthError{Reason: "embedding returned no vector"}
	}
	if deps.Cache != nil {
		deps.Cache.Put(ctx, model, query, vec)
	}
	return vec, nil
}

func filterClauses(f RetrievalFilters) []qdrant.MatchClause {
	var must []qdrant.MatchClause
	if f.Jurisdiction != "" {
		must = append(must, qdrant.MatchClause{Key: "jurisdiction", Value: f.Jurisdiction})
	}
	if f.EffectiveDate != "" {
		must = append(must, qdrant.MatchClause{Key: "effective_date", Value: f.EffectiveDate})
	}
	if f.Source != "" {
		must = append(must, qdrant.MatchClause{Key: "source", Value: f.Source})
	}
	return must
}

func chunkFromPoint(pt qdrant.ScoredPoint) (RetrievedChunk, bool) {
	docID := firstPayloadString(pt.Payload, docIDKeys)
	text := firstPayloadString(pt.Payload, textKeys)
	if docID == "" || text == "" {
		return RetrievedChunk{}, false
	}
	chunkID := firstPayloadString(pt.Payload, chunkIDKeys)
	if chunkID == "" {
		chunkID = pt.ID
	}
	return RetrievedChunk{
		DocID:    docID,
		ChunkID:  chunkID,
		Text:     text,
		Score:    pt.Score,
		Metadata: pt.Payload,
	}, true
}

func firstPayloadString(payload map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func clipChunks(chunks []RetrievedChunk, n int) []RetrievedChunk {
	if len(chunks) <= n {
		out := make([]RetrievedChunk, len(chunks))
		copy(out, chunks)
		return out
	}
	out := make([]RetrievedChunk, n)
	copy(out, chunks[:n])
	return out
}
