package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Store interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	TouchConversation(ctx context.Context, conversationID string) error
}

// Sink writes finished exchanges. Failures are logged and returned for the
// caller's information only; the browser has already seen the response.
type Sink struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

func NewSink(store Store, timeout time.Duration, logger *zap.Logger) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{store: store, timeout: timeout, logger: logger}
}

// Persist saves the user message and, when present, the assistant reply. The
// write is detached from ctx's cancellation so a closed browser tab still
// gets its transcript stored.
func (s *Sink) Persist(ctx context.Context, user *models.Message, assistant *models.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var err error
	if saveErr := s.store.SaveMessage(ctx, user); saveErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to save user message %s: %w", user.ID, saveErr))
	}
	if assistant != nil {
		if saveErr := s.store.SaveMessage(ctx, assistant); saveErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to save assistant message %s: %w", assistant.ID, saveErr))
		}
	}
	if touchErr := s.store.TouchConversation(ctx, user.ConvID); touchErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to touch conversation: %w", touchErr))
	}

	for _, e := range multierr.Errors(err) {
		s.logger.Error("Failed to persist exchange",
			zap.String("conversation_id", user.ConvID),
			zap.Error(e))
	}
	return err
}
