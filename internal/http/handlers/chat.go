package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AlPairo/temis-backend/internal/http/response"
	chatmod "github.com/AlPairo/temis-backend/internal/modules/chat"
	"github.com/AlPairo/temis-backend/internal/modules/chat/steps"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

type ChatHandler struct {
	log *logger.Logger
	svc *chatmod.Service
}

func NewChatHandler(log *logger.Logger, svc *chatmod.Service) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), svc: svc}
}

func userIDFrom(c *gin.Context) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-User-ID header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid X-User-ID header")
	}
	return id, nil
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	conv, err := h.svc.CreateConversation(c.Request.Context(), userID, strings.TrimSpace(req.Title))
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	response.RespondCreated(c, conv)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.svc.ListConversations(c.Request.Context(), userID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": rows})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	convID, err := h.ownedConversation(c)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.svc.GetConversationMessages(c.Request.Context(), convID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": rows})
}

func (h *ChatHandler) GetRetrievalEvents(c *gin.Context) {
	convID, err := h.ownedConversation(c)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.svc.GetRetrievalEvents(c.Request.Context(), convID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"retrieval_events": rows})
}

func (h *ChatHandler) GetAuditTrail(c *gin.Context) {
	convID, err := h.ownedConversation(c)
	if err != nil {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.svc.GetAuditTrail(c.Request.Context(), convID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"audit_events": rows})
}

// ownedConversation parses the path id and verifies the caller owns it.
// On failure the response is already written and a non-nil error returned.
func (h *ChatHandler) ownedConversation(c *gin.Context) (uuid.UUID, error) {
	userID, err := userIDFrom(c)
	if err != nil {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return uuid.Nil, err
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		err = fmt.Errorf("invalid conversation id")
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return uuid.Nil, err
	}
	conv, err := h.svc.GetConversation(c.Request.Context(), convID)
	if err != nil {
		response.RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("conversation not found"))
		return uuid.Nil, err
	}
	if conv.UserID != userID {
		err = fmt.Errorf("conversation not found")
		response.RespondError(c, http.StatusNotFound, "not_found", err)
		return uuid.Nil, err
	}
	return convID, nil
}

type streamMessageRequest struct {
	Text          string `json:"text" binding:"required"`
	QueryType     string `json:"query_type"`
	TopK          int    `json:"top_k"`
	DisableRerank bool   `json:"disable_rerank"`

	Jurisdiction  string `json:"jurisdiction"`
	EffectiveDate string `json:"effective_date"`
	Source        string `json:"source"`
}

type streamEndPayload struct {
	Status        string           `json:"status"`
	Content       string           `json:"content"`
	MessageID     string           `json:"messageId"`
	Citations     []steps.Citation `json:"citations"`
	LowConfidence bool             `json:"lowConfidence"`
}

// StreamMessage runs one chat turn and renders the orchestrator's event
// channel as server-sent events. Frames are: an `event:` line, one or more
// `data:` lines (payload split on newlines), then a blank line.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", err)
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("invalid conversation id"))
		return
	}
	var req streamMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	queryType := steps.QueryType(req.QueryType)
	if queryType != steps.QueryTypeAnalysis {
		queryType = steps.QueryTypeNormal
	}

	events, err := h.svc.StreamReply(c.Request.Context(), steps.RespondInput{
		ConversationID: convID,
		UserID:         userID,
		Text:           req.Text,
		QueryType:      queryType,
		TopK:           req.TopK,
		DisableRerank:  req.DisableRerank,
		Filters: steps.RetrievalFilters{
			Jurisdiction:  req.Jurisdiction,
			EffectiveDate: req.EffectiveDate,
			Source:        req.Source,
		},
	})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "stream_rejected", err)
		return
	}

	h.renderSSE(c, convID, queryType, events)
}

func (h *ChatHandler) renderSSE(c *gin.Context, convID uuid.UUID, queryType steps.QueryType, events <-chan steps.ChatStreamEvent) {
	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSEFrame(w, "start", convID.String())
	writeSSEFrame(w, "meta", mustMarshal(gin.H{"conversationId": convID.String(), "queryType": string(queryType)}))

	for ev := range events {
		switch ev.Type {
		case steps.EventReasoning:
			writeSSEFrame(w, "reasoning", mustMarshal(ev.Reasoning))
		case steps.EventToken:
			writeSSEFrame(w, "token", ev.Token)
		case steps.EventComplete:
			writeSSEFrame(w, "end", mustMarshal(streamEndPayload{
				Status:        "completed",
				Content:       ev.Content,
				MessageID:     ev.MessageID.String(),
				Citations:     ev.Citations,
				LowConfidence: ev.LowConfidence,
			}))
		case steps.EventError:
			writeSSEFrame(w, "error", "[ERROR] "+ev.SafeMessage)
		}
	}
}

func writeSSEFrame(w gin.ResponseWriter, event, payload string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(payload, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	w.Flush()
}

func mustMarshal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
