package relay

import (
	"errors"
	"sync"
)

var ErrStreamInProgress = errors.New("a response is already streaming for this conversation")

// Registry tracks the live exchange of every conversation. There is at most
// one; a second send is rejected rather than queued.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Exchange
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Exchange)}
}

func (r *Registry) acquire(conversationID string, x *Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[conversationID]; ok {
		return ErrStreamInProgress
	}
	r.live[conversationID] = x
	return nil
}

func (r *Registry) release(conversationID string, x *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[conversationID] == x {
		delete(r.live, conversationID)
	}
}

func (r *Registry) Get(conversationID string) (*Exchange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x, ok := r.live[conversationID]
	return x, ok
}

// Cancel aborts the live exchange of a conversation and reports whether
// there was one.
func (r *Registry) Cancel(conversationID string) bool {
	x, ok := r.Get(conversationID)
	if !ok {
		return false
	}
	x.Cancel()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
