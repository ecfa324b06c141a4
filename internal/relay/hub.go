package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Observer receives every update of an exchange, in order, from the
// exchange's run loop. Implementations must not block.
type Observer interface {
	Observe(u Update)
}

type ObserverFunc func(u Update)

func (f ObserverFunc) Observe(u Update) { f(u) }

// Hub fans updates out to in-process subscribers of a conversation, such as
// a second browser tab following a live answer.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Update]struct{}
	buffer int
	logger *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[chan Update]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of updates for conversationID and a function
// that unsubscribes and closes it.
func (h *Hub) Subscribe(conversationID string) (<-chan Update, func()) {
	ch := make(chan Update, h.buffer)

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[chan Update]struct{})
	}
	h.subs[conversationID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[conversationID], ch)
			if len(h.subs[conversationID]) == 0 {
				delete(h.subs, conversationID)
			}
			close(ch)
		})
	}
}

// Observe delivers u to every subscriber without blocking; a subscriber
// whose buffer is full misses the update.
func (h *Hub) Observe(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[u.ConversationID] {
		select {
		case ch <- u:
		default:
			h.logger.Warn("Dropping update for slow subscriber",
				zap.String("conversation_id", u.ConversationID),
				zap.String("event", string(u.Frame.Event)))
		}
	}
}

func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
