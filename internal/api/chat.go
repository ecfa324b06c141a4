package api

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/RichardoC/mentorfy/internal/relay"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const titleLength = 60

type ChatRequest struct {
	ConversationID  string              `json:"conversation_id"`
	BotID           string              `json:"bot_id"`
	Message         string              `json:"message"`
	FileAttachments []models.Attachment `json:"file_attachments"`
}

// Chat sends a prompt to the agent and relays its answer as an event
// stream. The conversation is created on its first message.
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	org := orgID(c)
	if !h.limiter.Allow(org) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
		return
	}

	ctx := c.Request.Context()
	var conv *models.Conversation
	if req.ConversationID == "" {
		if req.BotID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bot_id is required for a new conversation"})
			return
		}
		if _, err := h.db.GetBot(ctx, org, req.BotID); err != nil {
			h.storeError(c, "bot", err)
			return
		}
		conv = &models.Conversation{OrgID: org, BotID: req.BotID, UserID: userID(c), Title: title(req.Message)}
		if err := h.db.CreateConversation(ctx, conv); err != nil {
			h.storeError(c, "conversation", err)
			return
		}
	} else {
		var err error
		if conv, err = h.db.GetConversation(ctx, org, req.ConversationID); err != nil {
			h.storeError(c, "conversation", err)
			return
		}
	}

	history, err := h.db.GetConversationHistory(ctx, conv.ID, h.history)
	if err != nil {
		h.storeError(c, "conversation", err)
		return
	}

	// The request context is the exchange's parent: a closed tab cancels it.
	x, err := h.relay.Open(ctx, relay.Request{
		OrgID:          org,
		UserID:         userID(c),
		ConversationID: conv.ID,
		BotID:          conv.BotID,
		Message:        req.Message,
		Attachments:    req.FileAttachments,
		History:        history,
	})
	switch {
	case errors.Is(err, relay.ErrStreamInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, relay.ErrCancelled):
		if ctx.Err() != nil {
			return
		}
		h.logger.Info("Exchange cancelled before the agent answered", zap.String("conversation_id", conv.ID))
		c.Header("X-Conversation-Id", conv.ID)
		sse.SetHeaders(c.Writer.Header())
		c.Status(http.StatusOK)
		_ = sse.NewWriter(c.Writer).Write(sse.EventCancelled, sse.Cancelled{})
		return
	case err != nil:
		h.logger.Warn("Failed to reach agent", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "the assistant is unavailable, please retry"})
		return
	}

	c.Header("X-Conversation-Id", conv.ID)
	c.Header("X-Exchange-Id", x.ID())
	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := sse.NewWriter(c.Writer)

	stop := h.startHeartbeat(w)
	defer stop()

	x.Run(relay.ObserverFunc(func(u relay.Update) {
		if err := w.WriteFrame(u.Frame); err != nil {
			x.Cancel()
		}
	}))
}

// Cancel stops the conversation's live answer, keeping what was received.
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.db.GetConversation(c.Request.Context(), orgID(c), id); err != nil {
		h.storeError(c, "conversation", err)
		return
	}
	x, ok := h.relay.Registry().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live stream"})
		return
	}
	x.Cancel()
	<-x.Done()
	c.JSON(http.StatusOK, x.Snapshot())
}

// Live follows the conversation's in-flight answer from another client. It
// starts with the text received so far.
func (h *Handler) Live(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.db.GetConversation(c.Request.Context(), orgID(c), id); err != nil {
		h.storeError(c, "conversation", err)
		return
	}

	updates, unsubscribe := h.hub.Subscribe(id)
	defer unsubscribe()

	x, ok := h.relay.Registry().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live stream"})
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := sse.NewWriter(c.Writer)

	stop := h.startHeartbeat(w)
	defer stop()

	snap := x.Snapshot()
	sent := len(snap.Content)
	if snap.Streaming {
		if snap.Content != "" {
			if err := w.Write(sse.EventTextDelta, sse.TextDelta{Delta: snap.Content}); err != nil {
				return
			}
		}
		if snap.ToolStatus != "" {
			if err := w.Write(sse.EventToolStatus, sse.ToolStatus{Message: snap.ToolStatus}); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if u.ExchangeID != x.ID() {
				continue
			}
			// already covered by the opening snapshot
			if u.Frame.Event == sse.EventTextDelta && len(u.Snapshot.Content) <= sent {
				continue
			}
			if err := w.WriteFrame(u.Frame); err != nil || u.Frame.Event.Terminal() {
				return
			}
		case <-x.Done():
			for {
				select {
				case u := <-updates:
					if u.ExchangeID == x.ID() && u.Frame.Event.Terminal() {
						_ = w.WriteFrame(u.Frame)
						return
					}
				default:
					_ = w.WriteFrame(terminalFrame(x.Snapshot()))
					return
				}
			}
		}
	}
}

// startHeartbeat pings w until the returned func is called. The func
// returns once the pinging goroutine has exited.
func (h *Handler) startHeartbeat(w *sse.Writer) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := w.Ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func terminalFrame(s relay.Snapshot) sse.Frame {
	var f sse.Frame
	switch s.State {
	case relay.StateDone.String():
		f, _ = sse.NewFrame(sse.EventDone, sse.Done{Content: s.Content})
	case relay.StateCancelled.String():
		f, _ = sse.NewFrame(sse.EventCancelled, sse.Cancelled{Content: s.Content})
	default:
		f, _ = sse.NewFrame(sse.EventError, sse.ErrorPayload{Error: s.Error})
	}
	return f
}

func title(message string) string {
	t := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(t) <= titleLength {
		return t
	}
	r := []rune(t)
	return string(r[:titleLength]) + "..."
}
