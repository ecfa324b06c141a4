package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxLimitedOrgs = 10000

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter rate-limits chat sends per organization. Organizations idle long
// enough for their bucket to refill are forgotten, and the table never holds
// more than max entries.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	max      int
	now      func() time.Time
}

// NewLimiter allows perSecond sends with the given burst. perSecond <= 0
// disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Inf,
		burst:    burst,
		max:      maxLimitedOrgs,
		now:      time.Now,
	}
	if perSecond > 0 {
		l.limit = rate.Limit(perSecond)
		l.idle = time.Duration(float64(burst) / perSecond * float64(time.Second))
	}
	return l
}

func (l *Limiter) Allow(org string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	now := l.now()
	e, ok := l.limiters[org]
	if !ok {
		if len(l.limiters) >= l.max {
			l.evictLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[org] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// Len returns the number of organizations currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// evictLocked drops every refilled bucket, then the least recently used one
// if the table is still full.
func (l *Limiter) evictLocked(now time.Time) {
	var oldest string
	var oldestSeen time.Time
	for org, e := range l.limiters {
		if now.Sub(e.seen) >= l.idle {
			delete(l.limiters, org)
			continue
		}
		if oldest == "" || e.seen.Before(oldestSeen) {
			oldest, oldestSeen = org, e.seen
		}
	}
	if len(l.limiters) >= l.max && oldest != "" {
		delete(l.limiters, oldest)
	}
}
