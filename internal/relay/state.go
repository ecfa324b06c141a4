package relay

import (
	"strings"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further frames will be applied.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// Accumulator builds the assistant message out of text deltas and records
// the time to the first one.
type Accumulator struct {
	b      strings.Builder
	deltas int
	ttft   time.Duration
	seen   bool
}

// Append adds delta to the message. elapsed is measured from the start of the
// exchange and is only kept for the first delta.
func (a *Accumulator) Append(delta string, elapsed time.Duration) {
	if !a.seen {
		if elapsed < 0 {
			elapsed = 0
		}
		a.ttft = elapsed
		a.seen = true
	}
	a.b.WriteString(delta)
	a.deltas++
}

func (a *Accumulator) Content() string { return a.b.String() }

func (a *Accumulator) Deltas() int { return a.deltas }

// TimeToFirstToken returns the recorded latency and whether any delta arrived.
func (a *Accumulator) TimeToFirstToken() (time.Duration, bool) {
	return a.ttft, a.seen
}
