package observability

import (
	"sync/atomic"
	"time"
)

// Metrics is a process-wide accumulation registry. Updates are plain
// atomic increments so concurrent requests never contend on a lock.
type Metrics struct {
	chatRequests   atomic.Int64
	chatCompleted  atomic.Int64
	chatErrors     atomic.Int64
	retrievals     atomic.Int64
	retrievalMs    atomic.Int64
	rerankCalls    atomic.Int64
	rerankFallback atomic.Int64
	lowConfidence  atomic.Int64

	promptTokens     atomic.Int64
	completionTokens atomic.Int64

	auditAppendErrors atomic.Int64
}

var current atomic.Pointer[Metrics]

func Init() *Metrics {
	m := &Metrics{}
	current.Store(m)
	return m
}

// Current returns the registry installed by Init, or nil before startup.
// Callers must nil-check; components stay usable in tests without metrics.
func Current() *Metrics {
	return current.Load()
}

func (m *Metrics) IncChatRequest()  { m.chatRequests.Add(1) }
func (m *Metrics) IncChatComplete() { m.chatCompleted.Add(1) }
func (m *Metrics) IncChatError()    { m.chatErrors.Add(1) }

func (m *Metrics) ObserveRetrieval(latency time.Duration, lowConfidence bool) {
	m.retrievals.Add(1)
	m.retrievalMs.Add(latency.Milliseconds())
	if lowConfidence {
		m.lowConfidence.Add(1)
	}
}

func (m *Metrics) IncRerankCall()     { m.rerankCalls.Add(1) }
func (m *Metrics) IncRerankFallback() { m.rerankFallback.Add(1) }

func (m *Metrics) AddTokenUsage(prompt, completion int) {
	if prompt > 0 {
		m.promptTokens.Add(int64(prompt))
	}
	if completion > 0 {
		m.completionTokens.Add(int64(completion))
	}
}

func (m *Metrics) IncAuditAppendError() { m.auditAppendErrors.Add(1) }

func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"chat_requests_total":     m.chatRequests.Load(),
		"chat_completed_total":    m.chatCompleted.Load(),
		"chat_errors_total":       m.chatErrors.Load(),
		"retrievals_total":        m.retrievals.Load(),
		"retrieval_ms_total":      m.retrievalMs.Load(),
		"rerank_calls_total":      m.rerankCalls.Load(),
		"rerank_fallback_total":   m.rerankFallback.Load(),
		"low_confidence_total":    m.lowConfidence.Load(),
		"prompt_tokens_total":     m.promptTokens.Load(),
		"completion_tokens_total": m.completionTokens.Load(),
		"audit_append_errors":     m.auditAppendErrors.Load(),
	}
}
