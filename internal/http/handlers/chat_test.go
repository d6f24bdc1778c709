package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AlPairo/temis-backend/internal/modules/chat/steps"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

func renderEvents(t *testing.T, events []steps.ChatStreamEvent) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/stream", nil)

	ch := make(chan steps.ChatStreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	h := NewChatHandler(logger.NewNop(), nil)
	h.renderSSE(c, uuid.Nil, steps.QueryTypeAnalysis, ch)
	return rec.Body.String()
}

func TestRenderSSEFrameContract(t *testing.T) {
	msgID := uuid.New()
	body := renderEvents(t, []steps.ChatStreamEvent{
		{Type: steps.EventToken, Token: "hola"},
		{Type: steps.EventToken, Token: "línea1\nlínea2"},
		{
			Type:          steps.EventComplete,
			MessageID:     msgID,
			Content:       "hola mundo",
			Citations:     []steps.Citation{{ID: "ley1:art_5", DocID: "ley1", ChunkID: "art_5", Score: 0.9}},
			LowConfidence: false,
		},
	})

	if !strings.HasPrefix(body, "event: start\n") {
		t.Fatalf("stream must open with a start frame, got %q", body[:40])
	}
	if !strings.Contains(body, "event: meta\n") {
		t.Fatal("missing meta frame")
	}
	if !strings.Contains(body, "event: token\ndata: hola\n\n") {
		t.Fatalf("token frame malformed:\n%s", body)
	}
	// Multi-line payloads become one data: line per line.
	if !strings.Contains(body, "event: token\ndata: línea1\ndata: línea2\n\n") {
		t.Fatalf("multi-line token frame malformed:\n%s", body)
	}

	endIdx := strings.Index(body, "event: end\ndata: ")
	if endIdx < 0 {
		t.Fatalf("missing end frame:\n%s", body)
	}
	rawJSON := body[endIdx+len("event: end\ndata: "):]
	rawJSON = rawJSON[:strings.Index(rawJSON, "\n")]
	var payload map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &payload); err != nil {
		t.Fatalf("end payload is not JSON: %v", err)
	}
	for _, key := range []string{"status", "content", "messageId", "citations", "lowConfidence"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("end payload missing %q: %s", key, rawJSON)
		}
	}
	if payload["status"] != "completed" {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["messageId"] != msgID.String() {
		t.Fatalf("messageId = %v", payload["messageId"])
	}
}

func TestRenderSSEErrorFrame(t *testing.T) {
	body := renderEvents(t, []steps.ChatStreamEvent{
		{Type: steps.EventError, SafeMessage: "Lo sentimos, ha ocurrido un error."},
	})
	if !strings.Contains(body, "event: error\ndata: [ERROR] Lo sentimos, ha ocurrido un error.\n\n") {
		t.Fatalf("error frame malformed:\n%s", body)
	}
}
