package steps

import (
	"fmt"

	"github.com/google/uuid"
)

// RetrievedChunk is a normalized unit of indexed legal text with its
// relevance score. Metadata carries whatever payload the index stored.
type RetrievedChunk struct {
	DocID    string         `json:"doc_id"`
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Citation is the stable, user-facing reference derived from a chunk.
type Citation struct {
	ID            string  `json:"id"`
	DocID         string  `json:"doc_id"`
	ChunkID       string  `json:"chunk_id"`
	Source        string  `json:"source,omitempty"`
	Jurisdiction  string  `json:"jurisdiction,omitempty"`
	EffectiveDate string  `json:"effective_date,omitempty"`
	Score         float64 `json:"score"`
}

// RetrievalResult holds the final ordered chunks and their citations.
// Citation order always mirrors chunk order.
type RetrievalResult struct {
	Chunks        []RetrievedChunk `json:"chunks"`
	Citations     []Citation       `json:"citations"`
	LatencyMs     int64            `json:"latency_ms"`
	LowConfidence bool             `json:"low_confidence"`
}

type QueryType string

const (
	QueryTypeNormal   QueryType = "normal"
	QueryTypeAnalysis QueryType = "analysis"
)

type ReasoningStage string

const (
	StageRequestReceived         ReasoningStage = "request_received"
	StageRetrievalStarted        ReasoningStage = "retrieval_started"
	StageRetrievalCompleted      ReasoningStage = "retrieval_completed"
	StagePromptBuilt             ReasoningStage = "prompt_built"
	StageModelGenerationStarted  ReasoningStage = "model_generation_started"
	StageFinalSynthesisCompleted ReasoningStage = "final_synthesis_completed"
)

// ReasoningTraceItem is one live trace entry, emitted in analysis mode only.
type ReasoningTraceItem struct {
	Stage  ReasoningStage `json:"stage"`
	Step   string         `json:"step"`
	Detail string         `json:"detail,omitempty"`
	TS     string         `json:"ts"`
}

type StreamEventType string

const (
	EventReasoning StreamEventType = "reasoning"
	EventToken     StreamEventType = "token"
	EventComplete  StreamEventType = "complete"
	EventError     StreamEventType = "error"
)

// ChatStreamEvent is the tagged union streamed to the caller. Zero or more
// token/reasoning events precede exactly one terminal complete or error.
type ChatStreamEvent struct {
	Type StreamEventType `json:"type"`

	Reasoning *ReasoningTraceItem `json:"reasoning,omitempty"`
	Token     string              `json:"token,omitempty"`

	MessageID     uuid.UUID  `json:"message_id,omitempty"`
	Content       string     `json:"content,omitempty"`
	Citations     []Citation `json:"citations,omitempty"`
	LowConfidence bool       `json:"low_confidence,omitempty"`

	SafeMessage string `json:"safe_message,omitempty"`
}

// RetrievalFilters narrows the vector search; absent fields are omitted
// from the filter, never matched against null.
type RetrievalFilters struct {
	Jurisdiction  string `json:"jurisdiction,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
	Source        string `json:"source,omitempty"`
}

// RetrieverHealthError marks retrieval infrastructure failures:
// misconfiguration, embedding failures, vector store failures.
type RetrieverHealthError struct {
	Reason string
	Cause  error
}

func (e *RetrieverHealthError) Error() string {
	if e == nil {
		return "retriever unhealthy"
	}
	if e.Cause != nil {
		return fmt.Sprintf("retriever unhealthy: %s: %v", e.Reason, e.Cause)
	}
	return "retriever unhealthy: " + e.Reason
}

func (e *RetrieverHealthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RerankerError marks judge failures: empty content, invalid JSON, schema
// mismatch. Retrieval recovers from these by falling back to vector order.
type RerankerError struct {
	Reason string
	Cause  error
}

func (e *RerankerError) Error() string {
	if e == nil {
		return "reranker failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("reranker failed: %s: %v", e.Reason, e.Cause)
	}
	return "reranker failed: " + e.Reason
}

func (e *RerankerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
