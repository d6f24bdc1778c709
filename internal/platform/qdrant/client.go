package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AlPairo/temis-backend/internal/pkg/ctxutil"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// MatchClause is one equality condition; the search filter is the
// conjunction of all clauses.
type MatchClause struct {
	Key   string
	Value any
}

type SearchRequest struct {
	Vector      []float32
	Limit       int
	Must        []MatchClause
	WithPayload bool
}

// ScoredPoint is a normalized search hit regardless of which response
// shape the server produced.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Client is the minimal search surface the retrieval pipeline needs.
type Client interface {
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)
}

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	c := &client{
		log:     log.With("service", "QdrantClient"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	return c, nil
}

type rawSearchPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (c *client) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	const op = "search"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, opErr(op, OperationErrorValidation, "collection is required", nil)
	}
	if len(req.Vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": req.WithPayload,
		"with_vector":  false,
	}
	if len(req.Must) > 0 {
		must := make([]map[string]any, 0, len(req.Must))
		for _, m := range req.Must {
			must = append(must, map[string]any{
				"key":   m.Key,
				"match": map[string]any{"value": m.Value},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	raw, err := c.doJSON(ctx, op, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}

	points, err := normalizeSearchResponse(raw)
	if err != nil {
		return nil, opErr(op, OperationErrorDecodeFailed, "decode search response failed", err)
	}

	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		id := decodePointID(p.ID)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Score: p.Score, Payload: p.Payload})
	}
	return out, nil
}

// normalizeSearchResponse is a provider-compatibility shim. Depending on
// server version (and on whether a proxy strips the envelope) the hits
// arrive as a bare array, {"points": [...]}, {"result": [...]} or
// {"result": {"points": [...]}}. Priority follows that order.
func normalizeSearchResponse(raw []byte) ([]rawSearchPoint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	var bare []rawSearchPoint
	if err := json.Unmarshal(trimmed, &bare); err == nil {
		return bare, nil
	}

	var wrapped struct {
		Points []rawSearchPoint `json:"points"`
		Result json.RawMessage  `json:"result"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Points != nil {
		return wrapped.Points, nil
	}

	inner := bytes.TrimSpace(wrapped.Result)
	if len(inner) == 0 || string(inner) == "null" {
		return nil, nil
	}
	var resultArr []rawSearchPoint
	if err := json.Unmarshal(inner, &resultArr); err == nil {
		return resultArr, nil
	}
	var resultObj struct {
		Points []rawSearchPoint `json:"points"`
	}
	if err := json.Unmarshal(inner, &resultObj); err != nil {
		return nil, fmt.Errorf("unrecognized search response shape: %w", err)
	}
	return resultObj.Points, nil
}

func (c *client) doJSON(ctx context.Context, op, method, path string, in any) (json.RawMessage, error) {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return nil, opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, body)
	if err != nil {
		return nil, opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if readErr != nil {
		return nil, opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &OperationError{
			Code:       OperationErrorSearchFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}
	return raw, nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
