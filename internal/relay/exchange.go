package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrIdleTimeout = errors.New("agent stream stalled")
	ErrIncomplete  = errors.New("agent closed the stream without a response")
	ErrCancelled   = errors.New("response cancelled before the agent answered")
)

// UpstreamError is the message carried by an error frame.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string { return "agent error: " + e.Message }

type Snapshot struct {
	ExchangeID       string        `json:"exchange_id"`
	ConversationID   string        `json:"conversation_id"`
	State            string        `json:"state"`
	Content          string        `json:"content"`
	ToolStatus       string        `json:"tool_status,omitempty"`
	Streaming        bool          `json:"streaming"`
	TimeToFirstToken time.Duration `json:"ttft_ns,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Update is published to observers after every applied frame. Frame is what
// the browser should receive; Snapshot is the exchange state after it.
type Update struct {
	ConversationID string
	ExchangeID     string
	Frame          sse.Frame
	Snapshot       Snapshot
}

type Result struct {
	State            State
	User             models.Message
	Assistant        *models.Message // nil unless done or cancelled with content
	Err              error
	TimeToFirstToken time.Duration
}

// Exchange is one prompt and its streamed answer.
type Exchange struct {
	id             string
	conversationID string
	relay          *Relay
	ctx            context.Context
	cancel         context.CancelFunc
	body           io.ReadCloser
	start          time.Time
	user           models.Message
	observers      []Observer

	mu        sync.Mutex
	state     State
	acc       Accumulator
	status    string
	final     string
	err       error
	cancelled bool

	runOnce sync.Once
	done    chan struct{}
	result  Result
}

type readResult struct {
	frame sse.Frame
	err   error
}

func (x *Exchange) ID() string { return x.id }

func (x *Exchange) ConversationID() string { return x.conversationID }

func (x *Exchange) UserMessage() models.Message { return x.user }

// Done is closed once the exchange has been finalized and persisted.
func (x *Exchange) Done() <-chan struct{} { return x.done }

// Cancel aborts the upstream request. The text received so far is kept.
// Safe to call any number of times, from any goroutine.
func (x *Exchange) Cancel() {
	x.mu.Lock()
	if x.state == StateStreaming {
		x.cancelled = true
	}
	x.mu.Unlock()
	x.cancel()
}

func (x *Exchange) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.snapshotLocked()
}

// Run consumes the agent stream until a terminal state, publishing every
// update to the relay's observers and extra, then persists the exchange.
// Only the first call drives the stream; later calls wait for its result.
func (x *Exchange) Run(extra ...Observer) Result {
	x.runOnce.Do(func() {
		x.observers = make([]Observer, 0, len(x.relay.observers)+len(extra))
		x.observers = append(x.observers, x.relay.observers...)
		x.observers = append(x.observers, extra...)

		x.loop()
		x.finish()
	})
	<-x.done
	return x.result
}

func (x *Exchange) loop() {
	defer x.body.Close()
	defer x.cancel()

	results := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		r := sse.NewReader(x.body, x.relay.logger)
		for {
			f, err := r.Next()
			select {
			case results <- readResult{frame: f, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if x.relay.idleTimeout > 0 {
		timer = time.NewTimer(x.relay.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-x.ctx.Done():
			x.terminate(StateCancelled, nil)
			return
		case <-idle:
			x.terminate(StateFailed, ErrIdleTimeout)
			return
		case res := <-results:
			if res.err != nil {
				switch {
				case x.ctx.Err() != nil:
					x.terminate(StateCancelled, nil)
				case errors.Is(res.err, io.EOF):
					x.endOfStream()
				default:
					x.terminate(StateFailed, fmt.Errorf("agent stream failed: %w", res.err))
				}
				return
			}
			if timer != nil {
				timer.Reset(x.relay.idleTimeout)
			}
			if x.apply(res.frame) {
				return
			}
		}
	}
}

// apply folds one frame into the exchange and reports whether it was terminal.
func (x *Exchange) apply(f sse.Frame) bool {
	x.mu.Lock()
	if x.cancelled || x.ctx.Err() != nil || x.state != StateStreaming {
		x.mu.Unlock()
		return false
	}

	out := f
	terminal := false
	switch f.Event {
	case sse.EventTextDelta:
		var d sse.TextDelta
		if err := f.Decode(&d); err != nil {
			x.mu.Unlock()
			x.relay.logger.Warn("Skipping text delta", zap.String("exchange_id", x.id), zap.Error(err))
			return false
		}
		x.acc.Append(d.Delta, x.relay.now().Sub(x.start))

	case sse.EventToolStatus:
		var s sse.ToolStatus
		if err := f.Decode(&s); err != nil {
			x.mu.Unlock()
			x.relay.logger.Warn("Skipping tool status", zap.String("exchange_id", x.id), zap.Error(err))
			return false
		}
		x.status = s.Message

	case sse.EventThinkingStart, sse.EventThinkingDelta, sse.EventThinkingEnd:

	case sse.EventDone:
		var d sse.Done
		if err := f.Decode(&d); err != nil {
			x.relay.logger.Warn("Malformed done frame, using accumulated text",
				zap.String("exchange_id", x.id), zap.Error(err))
		}
		x.final = d.Content
		if x.final == "" {
			x.final = x.acc.Content()
		}
		x.state = StateDone
		x.status = ""
		out, _ = sse.NewFrame(sse.EventDone, sse.Done{Content: x.final})
		terminal = true

	case sse.EventError:
		var e sse.ErrorPayload
		_ = f.Decode(&e)
		if e.Error == "" {
			e.Error = "unknown error"
		}
		x.state = StateFailed
		x.err = &UpstreamError{Message: e.Error}
		x.status = ""
		out, _ = sse.NewFrame(sse.EventError, sse.ErrorPayload{Error: e.Error})
		terminal = true

	default:
		x.mu.Unlock()
		x.relay.logger.Debug("Ignoring unknown event",
			zap.String("exchange_id", x.id), zap.String("event", string(f.Event)))
		return false
	}

	u := x.updateLocked(out)
	x.mu.Unlock()
	x.publish(u)
	return terminal
}

func (x *Exchange) endOfStream() {
	x.mu.Lock()
	got := x.acc.Deltas()
	x.mu.Unlock()
	if got > 0 {
		x.terminate(StateDone, nil)
		return
	}
	x.terminate(StateFailed, ErrIncomplete)
}

func (x *Exchange) terminate(state State, err error) {
	x.mu.Lock()
	if x.state.Terminal() {
		x.mu.Unlock()
		return
	}
	x.state = state
	x.err = err
	x.status = ""

	var f sse.Frame
	switch state {
	case StateDone:
		x.final = x.acc.Content()
		f, _ = sse.NewFrame(sse.EventDone, sse.Done{Content: x.final})
	case StateCancelled:
		x.final = x.acc.Content()
		f, _ = sse.NewFrame(sse.EventCancelled, sse.Cancelled{Content: x.final})
	default:
		f, _ = sse.NewFrame(sse.EventError, sse.ErrorPayload{Error: err.Error()})
	}
	u := x.updateLocked(f)
	x.mu.Unlock()
	x.publish(u)
}

func (x *Exchange) updateLocked(f sse.Frame) Update {
	return Update{
		ConversationID: x.conversationID,
		ExchangeID:     x.id,
		Frame:          f,
		Snapshot:       x.snapshotLocked(),
	}
}

func (x *Exchange) snapshotLocked() Snapshot {
	s := Snapshot{
		ExchangeID:     x.id,
		ConversationID: x.conversationID,
		State:          x.state.String(),
		Content:        x.acc.Content(),
		ToolStatus:     x.status,
		Streaming:      x.state == StateStreaming,
	}
	if x.state.Terminal() && x.final != "" {
		s.Content = x.final
	}
	if x.state == StateFailed {
		s.Content = ""
	}
	if ttft, ok := x.acc.TimeToFirstToken(); ok {
		s.TimeToFirstToken = ttft
	}
	if x.err != nil {
		s.Error = x.err.Error()
	}
	return s
}

func (x *Exchange) publish(u Update) {
	for _, o := range x.observers {
		o.Observe(u)
	}
}

// finish builds the result, hands it to the sink and frees the conversation
// for the next send.
func (x *Exchange) finish() {
	x.mu.Lock()
	res := Result{State: x.state, User: x.user, Err: x.err}
	ttft, _ := x.acc.TimeToFirstToken()
	res.TimeToFirstToken = ttft
	if (x.state == StateDone || x.state == StateCancelled) && x.final != "" {
		res.Assistant = &models.Message{
			ID:            uuid.NewString(),
			ConvID:        x.conversationID,
			Role:          models.RoleAssistant,
			Content:       x.final,
			TokenCount:    x.acc.Deltas(),
			TimeToFirstMs: ttft.Milliseconds(),
			CreatedAt:     x.relay.now().UTC(),
		}
	}
	x.mu.Unlock()

	user := res.User
	_ = x.relay.sink.Persist(x.ctx, &user, res.Assistant)
	x.relay.registry.release(x.conversationID, x)

	fields := []zap.Field{
		zap.String("exchange_id", x.id),
		zap.String("conversation_id", x.conversationID),
		zap.Stringer("state", res.State),
		zap.Duration("ttft", res.TimeToFirstToken),
		zap.Duration("elapsed", x.relay.now().Sub(x.start)),
	}
	if res.Err != nil {
		x.relay.logger.Warn("Exchange failed", append(fields, zap.Error(res.Err))...)
	} else {
		x.relay.logger.Info("Exchange finished", fields...)
	}

	x.result = res
	close(x.done)
}
