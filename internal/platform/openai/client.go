package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AlPairo/temis-backend/internal/pkg/ctxutil"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

// ChatMessage is one prompt message in provider wire order.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type StreamChunkKind int

const (
	ChunkToken StreamChunkKind = iota
	ChunkUsage
	ChunkUnknown
)

// StreamChunk is the normalized streaming unit: a content delta, a usage
// summary, or an unrecognized frame callers are expected to skip.
type StreamChunk struct {
	Kind  StreamChunkKind
	Token string
	Usage TokenUsage
}

// Client is the LLM surface used by the retrieval pipeline: embeddings,
// structured JSON (reranker, title generator) and token streaming.
type Client interface {
	Embed(ctx context.Context, input string, model string) ([]float32, error)
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
	StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(StreamChunk) error) error
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http status=%d body=%s", e.StatusCode, e.Body)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	embedModel := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *client) Embed(ctx context.Context, input string, model string) ([]float32, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("embed input required")
	}
	if strings.TrimSpace(model) == "" {
		model = c.embedModel
	}

	req := map[string]any{
		"model": model,
		"input": input,
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector (model=%s)", model)
	}
	return resp.Data[0].Embedding, nil
}

func (c *client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := map[string]any{
		"model": c.model,
		"messages": []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"schema": schema,
				"strict": true,
			},
		},
	}

	var resp chatCompletionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response")
	}
	if refusal := strings.TrimSpace(resp.Choices[0].Message.Refusal); refusal != "" {
		return nil, fmt.Errorf("model refused: %s", refusal)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("empty content in completion response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, content)
	}
	return obj, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// StreamChat streams completion deltas. Every frame is normalized into a
// StreamChunk; frames that carry neither a content delta nor a usage
// summary are forwarded as ChunkUnknown so the caller decides how to skip.
func (c *client) StreamChat(ctx context.Context, messages []ChatMessage, onChunk func(StreamChunk) error) error {
	if len(messages) == 0 {
		return errors.New("messages required")
	}

	reqBody := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return streamSSE(resp.Body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *TokenUsage     `json:"usage"`
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			// Not a frame we understand; let the caller skip it.
			return onChunk(StreamChunk{Kind: ChunkUnknown})
		}
		if len(frame.Error) > 0 && string(frame.Error) != "null" {
			return fmt.Errorf("openai stream error: %s", string(frame.Error))
		}
		if frame.Usage != nil {
			return onChunk(StreamChunk{Kind: ChunkUsage, Usage: *frame.Usage})
		}
		if len(frame.Choices) > 0 {
			if delta := frame.Choices[0].Delta.Content; delta != "" {
				return onChunk(StreamChunk{Kind: ChunkToken, Token: delta})
			}
			return nil
		}
		return onChunk(StreamChunk{Kind: ChunkUnknown})
	})
}

func (c *client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: truncate(raw, 2048)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
