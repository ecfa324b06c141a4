package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const exportLimit = 10000

type CreateConversationRequest struct {
	BotID string `json:"bot_id"`
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type ConversationResponse struct {
	*models.Conversation
	Greeting *models.Message `json:"greeting,omitempty"`
}

func (h *Handler) GetConversations(c *gin.Context) {
	conversations, err := h.db.GetConversations(c.Request.Context(), orgID(c))
	if err != nil {
		h.storeError(c, "conversations", err)
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("org_id", orgID(c)))

	c.JSON(http.StatusOK, conversations)
}

// CreateConversation opens a conversation with a bot and posts the bot's
// greeting, if it has one.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required"})
		return
	}

	ctx := c.Request.Context()
	bot, err := h.db.GetBot(ctx, orgID(c), req.BotID)
	if err != nil {
		h.storeError(c, "bot", err)
		return
	}

	conv := &models.Conversation{OrgID: orgID(c), BotID: bot.ID, UserID: userID(c), Title: req.Title}
	if err := h.db.CreateConversation(ctx, conv); err != nil {
		h.storeError(c, "conversation", err)
		return
	}

	greeting, err := h.greet(c, conv, bot)
	if err != nil {
		// the conversation exists; a missing greeting is not worth failing it
		h.logger.Warn("Failed to post greeting", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, ConversationResponse{Conversation: conv, Greeting: greeting})
}

// FireGreeting posts the bot's greeting unless it was already posted. It
// answers 204 when there was nothing to do.
func (h *Handler) FireGreeting(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.db.GetConversation(ctx, orgID(c), c.Param("id"))
	if err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	bot, err := h.db.GetBot(ctx, orgID(c), conv.BotID)
	if err != nil {
		h.storeError(c, "bot", err)
		return
	}

	msg, err := h.greet(c, conv, bot)
	if err != nil {
		h.storeError(c, "greeting", err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// greet persists the greeting only for the caller that moves the
// conversation from pending to fired.
func (h *Handler) greet(c *gin.Context, conv *models.Conversation, bot *models.Bot) (*models.Message, error) {
	if bot.Greeting == "" {
		return nil, nil
	}
	won, err := h.db.FireGreeting(c.Request.Context(), conv.ID)
	if err != nil || !won {
		return nil, err
	}
	conv.GreetingState = models.GreetingFired

	msg := &models.Message{ConvID: conv.ID, Role: models.RoleAssistant, Content: bot.Greeting}
	if err := h.db.SaveMessage(c.Request.Context(), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (h *Handler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.db.GetConversation(ctx, orgID(c), c.Param("id"))
	if err != nil {
		h.storeError(c, "conversation", err)
		return
	}

	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}
	messages, err := h.db.GetConversationHistory(ctx, conv.ID, limit)
	if err != nil {
		h.storeError(c, "messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	if err := h.db.UpdateConversationTitle(c.Request.Context(), orgID(c), c.Param("id"), req.Title); err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	c.Status(http.StatusOK)
}

// DeleteConversation removes a conversation and its messages, stopping its
// live answer first.
func (h *Handler) DeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.db.GetConversation(ctx, orgID(c), id); err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	if x, ok := h.relay.Registry().Get(id); ok {
		x.Cancel()
		<-x.Done()
	}

	if err := h.db.DeleteConversation(ctx, orgID(c), id); err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	c.Status(http.StatusOK)
}

// ExportConversation downloads the transcript as CSV.
func (h *Handler) ExportConversation(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.db.GetConversation(ctx, orgID(c), c.Param("id"))
	if err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	messages, err := h.db.GetConversationHistory(ctx, conv.ID, exportLimit)
	if err != nil {
		h.storeError(c, "messages", err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="conversation-%s.csv"`, conv.ID))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"created_at", "role", "content", "token_count", "ttft_ms"})
	for _, m := range messages {
		_ = w.Write([]string{
			m.CreatedAt.UTC().Format(time.RFC3339),
			m.Role,
			m.Content,
			strconv.Itoa(m.TokenCount),
			strconv.FormatInt(m.TimeToFirstMs, 10),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Warn("Failed to write export", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}
