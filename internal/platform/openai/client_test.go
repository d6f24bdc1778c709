package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type fakeTransport struct {
	fn func(r *http.Request) (*http.Response, error)
}

func (t fakeTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func newTestClient(t *testing.T, fn func(r *http.Request) (*http.Response, error)) *client {
	t.Helper()
	return &client{
		log:        logger.NewNop(),
		baseURL:    "https://api.openai.test",
		apiKey:     "test-key",
		model:      "gpt-4o-mini",
		embedModel: "text-embedding-3-small",
		httpClient: &http.Client{Transport: fakeTransport{fn: fn}},
	}
}

func jsonBody(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(raw))}
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "custom-embed" {
			t.Fatalf("model: got=%v", req["model"])
		}
		return jsonBody(t, 200, map[string]any{
			"data": []any{map[string]any{"embedding": []float64{0.1, 0.2}}},
		}), nil
	})
	vec, err := c.Embed(context.Background(), "contrato de arrendamiento", "custom-embed")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("vector len: got=%d", len(vec))
	}
}

func TestEmbedEmptyVectorFailsLoudly(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonBody(t, 200, map[string]any{"data": []any{}}), nil
	})
	if _, err := c.Embed(context.Background(), "query", ""); err == nil {
		t.Fatal("want error when provider returns no vector")
	}
}

func TestGenerateJSON(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		rf, _ := req["response_format"].(map[string]any)
		if rf["type"] != "json_schema" {
			t.Fatalf("response_format: got=%v", rf)
		}
		return jsonBody(t, 200, map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{"content": `{"selected_ids":["cand_2","cand_1"]}`},
			}},
		}), nil
	})
	obj, err := c.GenerateJSON(context.Background(), "sys", "user", "rerank_selection", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if _, ok := obj["selected_ids"]; !ok {
		t.Fatalf("selected_ids missing: %v", obj)
	}
}

func TestGenerateJSONEmptyContent(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonBody(t, 200, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": ""}}},
		}), nil
	})
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "n", map[string]any{}); err == nil {
		t.Fatal("want error for empty content")
	}
}

func TestStreamChat(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hola"}}]}`,
		"",
		`data: {"choices":[{"delta":{"content":" mundo"}}]}`,
		"",
		`data: {"mystery":true}`,
		"",
		`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
		"",
		`data: [DONE]`,
		"",
	}, "\n")
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Fatalf("accept header: got=%q", r.Header.Get("Accept"))
		}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(sse))}, nil
	})

	var tokens []string
	var usage TokenUsage
	unknown := 0
	err := c.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "hola"}}, func(ch StreamChunk) error {
		switch ch.Kind {
		case ChunkToken:
			tokens = append(tokens, ch.Token)
		case ChunkUsage:
			usage = ch.Usage
		case ChunkUnknown:
			unknown++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if got := strings.Join(tokens, ""); got != "Hola mundo" {
		t.Fatalf("tokens: got=%q", got)
	}
	if usage.TotalTokens != 12 || usage.PromptTokens != 10 {
		t.Fatalf("usage: got=%+v", usage)
	}
	if unknown != 1 {
		t.Fatalf("unknown chunks: want=1 got=%d", unknown)
	}
}

func TestStreamChatErrorFrame(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		"",
		`data: {"error":{"message":"rate limited"}}`,
		"",
	}, "\n")
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(sse))}, nil
	})
	err := c.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, func(ch StreamChunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("want stream error, got %v", err)
	}
}
