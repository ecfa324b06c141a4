// Package agent serves the chat endpoint the relay streams from.
package agent

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/RichardoC/mentorfy/internal/llm"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Responder interface {
	Respond(ctx context.Context, req upstream.ChatRequest, w llm.Emitter) error
}

type Handler struct {
	svc    Responder
	apiKey string
	logger *zap.Logger
}

// NewHandler returns the chat handler. A non-empty apiKey must be presented
// as a bearer token.
func NewHandler(svc Responder, apiKey string, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, apiKey: apiKey, logger: logger}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/chat", h.auth, h.Chat)
}

func (h *Handler) auth(c *gin.Context) {
	if h.apiKey == "" {
		return
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
	}
}

func (h *Handler) Chat(c *gin.Context) {
	var req upstream.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.OrgID == "" || req.BotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message, org_id and bot_id are required"})
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := sse.NewWriter(c.Writer)

	if err := h.svc.Respond(c.Request.Context(), req, w); err != nil {
		h.logger.Info("Client went away mid-response",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
	}
}
