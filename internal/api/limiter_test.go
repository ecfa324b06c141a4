package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPerOrg(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("org_1"))
	assert.False(t, l.Allow("org_1"))
	assert.True(t, l.Allow("org_2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("org_1"))
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 5)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("org_1"))
	}
	assert.Equal(t, 0, l.Len())
}

func TestLimiterEvictsIdleOrgs(t *testing.T) {
	l := NewLimiter(1, 1)
	l.max = 2
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("org_1"))
	now = now.Add(100 * time.Millisecond)
	assert.True(t, l.Allow("org_2"))
	assert.False(t, l.Allow("org_2"))

	// Table full and nobody refilled: the least recently seen org goes.
	assert.True(t, l.Allow("org_3"))
	assert.Equal(t, 2, l.Len())
	_, kept := l.limiters["org_2"]
	assert.True(t, kept)
	_, kept = l.limiters["org_1"]
	assert.False(t, kept)

	// org_2 survived with its drained bucket.
	assert.False(t, l.Allow("org_2"))

	// Once every bucket has refilled they are all dropped together.
	now = now.Add(2 * time.Second)
	assert.True(t, l.Allow("org_4"))
	assert.Equal(t, 1, l.Len())
}
