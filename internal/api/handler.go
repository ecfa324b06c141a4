package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/RichardoC/mentorfy/internal/botcache"
	"github.com/RichardoC/mentorfy/internal/db"
	"github.com/RichardoC/mentorfy/internal/relay"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	orgKey  = "org_id"
	userKey = "user_id"
)

type Options struct {
	// HeartbeatInterval spaces the comment lines written to idle streams.
	HeartbeatInterval time.Duration
	// HistoryLimit is how many earlier messages are sent with a prompt.
	HistoryLimit int

	SendsPerSecond float64
	SendBurst      int
}

type Handler struct {
	db        *db.Database
	relay     *relay.Relay
	hub       *relay.Hub
	bots      *botcache.Cache
	limiter   *Limiter
	heartbeat time.Duration
	history   int
	logger    *zap.Logger
}

func NewHandler(database *db.Database, rl *relay.Relay, hub *relay.Hub, bots *botcache.Cache, logger *zap.Logger, opts Options) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Handler{
		db:        database,
		relay:     rl,
		hub:       hub,
		bots:      bots,
		limiter:   NewLimiter(opts.SendsPerSecond, opts.SendBurst),
		heartbeat: opts.HeartbeatInterval,
		history:   opts.HistoryLimit,
		logger:    logger,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	api := r.Group("/api", h.tenant)

	api.POST("/chat", h.Chat)

	api.GET("/conversations", h.GetConversations)
	api.POST("/conversations", h.CreateConversation)
	api.PUT("/conversations/:id", h.UpdateConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.GET("/conversations/:id/messages", h.GetMessages)
	api.GET("/conversations/:id/export", h.ExportConversation)
	api.POST("/conversations/:id/greeting", h.FireGreeting)
	api.POST("/conversations/:id/cancel", h.Cancel)
	api.GET("/conversations/:id/live", h.Live)

	api.GET("/bots", h.GetBots)
	api.POST("/bots", h.CreateBot)
	api.GET("/bots/:id", h.GetBot)
	api.PUT("/bots/:id", h.UpdateBot)
	api.DELETE("/bots/:id", h.DeleteBot)

	api.GET("/folders", h.GetFolders)
	api.POST("/folders", h.CreateFolder)
	api.PUT("/folders/:id", h.RenameFolder)
	api.PUT("/folders/:id/move", h.MoveFolder)
	api.DELETE("/folders/:id", h.DeleteFolder)

	api.POST("/knowledge", h.AddKnowledge)
	api.GET("/knowledge/search", h.SearchKnowledge)
}

// tenant reads the identity set by the auth gateway in front of the server.
func (h *Handler) tenant(c *gin.Context) {
	org := c.GetHeader("X-Organization-Id")
	if org == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing organization"})
		return
	}
	c.Set(orgKey, org)
	c.Set(userKey, c.GetHeader("X-User-Id"))
}

func orgID(c *gin.Context) string  { return c.GetString(orgKey) }
func userID(c *gin.Context) string { return c.GetString(userKey) }

func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"live_streams": h.relay.Registry().Len(),
	})
}

// storeError answers a failed store call: 404 for a missing row, 500
// otherwise.
func (h *Handler) storeError(c *gin.Context, what string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	h.logger.Error("Store call failed",
		zap.String("what", what),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
