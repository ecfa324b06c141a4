// Package relay forwards chat prompts to the agent, re-emits its event stream
// and persists the finished exchange.
package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Upstream interface {
	Stream(ctx context.Context, req upstream.ChatRequest) (io.ReadCloser, error)
}

type Options struct {
	// IdleTimeout fails an exchange when no frame arrives for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// Observers receive every update of every exchange.
	Observers []Observer
	Now       func() time.Time
}

type Relay struct {
	upstream    Upstream
	sink        *Sink
	registry    *Registry
	observers   []Observer
	idleTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func New(up Upstream, sink *Sink, registry *Registry, logger *zap.Logger, opts Options) *Relay {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		upstream:    up,
		sink:        sink,
		registry:    registry,
		observers:   opts.Observers,
		idleTimeout: opts.IdleTimeout,
		now:         now,
		logger:      logger,
	}
}

func (r *Relay) Registry() *Registry { return r.registry }

type Request struct {
	OrgID          string
	UserID         string
	ConversationID string
	BotID          string
	Message        string
	Attachments    []models.Attachment
	History        []models.Message
}

// Open claims the conversation and starts the upstream request. It fails
// with ErrStreamInProgress when the conversation already has a live
// exchange, with ErrCancelled when the exchange is cancelled while the agent
// is being reached, and with the transport error when the agent can't be
// reached or rejects the request. In the last two cases only the user message
// is persisted.
// The returned exchange must be Run.
func (r *Relay) Open(ctx context.Context, req Request) (*Exchange, error) {
	x := &Exchange{
		id:             uuid.NewString(),
		conversationID: req.ConversationID,
		relay:          r,
		state:          StateIdle,
		done:           make(chan struct{}),
		user: models.Message{
			ID:          uuid.NewString(),
			ConvID:      req.ConversationID,
			Role:        models.RoleUser,
			Content:     req.Message,
			Attachments: req.Attachments,
			CreatedAt:   r.now().UTC(),
		},
	}
	x.ctx, x.cancel = context.WithCancel(ctx)

	if err := r.registry.acquire(req.ConversationID, x); err != nil {
		x.cancel()
		return nil, err
	}

	x.mu.Lock()
	x.start = r.now()
	x.state = StateStreaming
	x.mu.Unlock()

	body, err := r.upstream.Stream(x.ctx, chatRequest(req))
	if err != nil {
		x.mu.Lock()
		cancelled := x.cancelled || x.ctx.Err() != nil
		x.mu.Unlock()
		x.runOnce.Do(func() {
			x.observers = r.observers
			if cancelled {
				x.terminate(StateCancelled, nil)
			} else {
				x.terminate(StateFailed, err)
			}
			x.cancel()
			x.finish()
		})
		if cancelled {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("failed to open agent stream: %w", err)
	}
	x.body = body
	return x, nil
}

func chatRequest(req Request) upstream.ChatRequest {
	history := make([]upstream.HistoryMessage, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, upstream.HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return upstream.ChatRequest{
		Message:          req.Message,
		ConversationID:   req.ConversationID,
		BotID:            req.BotID,
		OrgID:            req.OrgID,
		FileAttachments:  req.Attachments,
		PreviousMessages: history,
	}
}
