package api

import (
	"net/http"
	"strings"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/gin-gonic/gin"
)

type BotRequest struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	Greeting     string   `json:"greeting"`
}

func (r BotRequest) bot(org string) (*models.Bot, bool) {
	if strings.TrimSpace(r.Name) == "" {
		return nil, false
	}
	b := &models.Bot{
		OrgID:        org,
		Name:         r.Name,
		SystemPrompt: r.SystemPrompt,
		Model:        r.Model,
		Temperature:  0.7,
		Greeting:     r.Greeting,
	}
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return nil, false
		}
		b.Temperature = *r.Temperature
	}
	return b, true
}

func (h *Handler) GetBots(c *gin.Context) {
	bots, err := h.bots.Get(c.Request.Context(), orgID(c))
	if err != nil {
		h.storeError(c, "bots", err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (h *Handler) GetBot(c *gin.Context) {
	bots, err := h.bots.Get(c.Request.Context(), orgID(c))
	if err != nil {
		h.storeError(c, "bots", err)
		return
	}
	for _, b := range bots {
		if b.ID == c.Param("id") {
			c.JSON(http.StatusOK, b)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
}

func (h *Handler) CreateBot(c *gin.Context) {
	var req BotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	bot, ok := req.bot(orgID(c))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required and temperature must be between 0 and 2"})
		return
	}

	if err := h.db.CreateBot(c.Request.Context(), bot); err != nil {
		h.storeError(c, "bot", err)
		return
	}
	h.bots.Invalidate(bot.OrgID)
	c.JSON(http.StatusCreated, bot)
}

func (h *Handler) UpdateBot(c *gin.Context) {
	var req BotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	bot, ok := req.bot(orgID(c))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required and temperature must be between 0 and 2"})
		return
	}
	bot.ID = c.Param("id")

	if err := h.db.UpdateBot(c.Request.Context(), bot); err != nil {
		h.storeError(c, "bot", err)
		return
	}
	h.bots.Invalidate(bot.OrgID)
	c.JSON(http.StatusOK, bot)
}

func (h *Handler) DeleteBot(c *gin.Context) {
	if err := h.db.DeleteBot(c.Request.Context(), orgID(c), c.Param("id")); err != nil {
		h.storeError(c, "bot", err)
		return
	}
	h.bots.Invalidate(orgID(c))
	c.Status(http.StatusOK)
}
