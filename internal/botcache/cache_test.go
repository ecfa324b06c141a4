package botcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls atomic.Int32
	bots  map[string][]models.Bot
}

func (l *countingLoader) load(_ context.Context, orgID string) ([]models.Bot, error) {
	l.calls.Add(1)
	return l.bots[orgID], nil
}

func TestHitWithinTTL(t *testing.T) {
	l := &countingLoader{bots: map[string][]models.Bot{"org_1": {{ID: "b1", OrgID: "org_1"}}}}
	c := New(l.load, time.Minute, 10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	bots, err := c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	require.Len(t, bots, 1)

	bots[0].Name = "mutated"
	again, err := c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	assert.Equal(t, "", again[0].Name)
	assert.EqualValues(t, 1, l.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, l.calls.Load())

	assert.Equal(t, Stats{Hits: 1, Misses: 2, Entries: 1}, c.Stats())
}

func TestInvalidate(t *testing.T) {
	l := &countingLoader{bots: map[string][]models.Bot{}}
	c := New(l.load, time.Minute, 10)

	_, err := c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	c.Invalidate("org_1")
	_, err = c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, l.calls.Load())
}

func TestInvalidateDuringLoadIsNotCached(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	c := New(func(ctx context.Context, orgID string) ([]models.Bot, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return []models.Bot{{ID: "stale"}}, nil
	}, time.Minute, 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bots, err := c.Get(context.Background(), "org_1")
		assert.NoError(t, err)
		assert.Equal(t, "stale", bots[0].ID)
	}()

	<-started
	c.Invalidate("org_1")
	close(release)
	<-done

	assert.Equal(t, 0, c.Stats().Entries)
	_, err := c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := New(func(ctx context.Context, orgID string) ([]models.Bot, error) {
		calls.Add(1)
		<-release
		return []models.Bot{{ID: "b1"}}, nil
	}, time.Minute, 10)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bots, err := c.Get(context.Background(), "org_1")
			assert.NoError(t, err)
			assert.Len(t, bots, 1)
		}()
	}

	require.Eventually(t, func() bool { return c.Stats().Misses == n }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestEvictsOldestTenant(t *testing.T) {
	l := &countingLoader{bots: map[string][]models.Bot{}}
	c := New(l.load, time.Hour, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for _, org := range []string{"org_1", "org_2", "org_3"} {
		_, err := c.Get(context.Background(), org)
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	assert.Equal(t, 2, c.Stats().Entries)

	_, err := c.Get(context.Background(), "org_1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, l.calls.Load())
}

func TestLoadErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	c := New(func(ctx context.Context, orgID string) ([]models.Bot, error) {
		calls.Add(1)
		return nil, boom
	}, time.Minute, 10)

	_, err := c.Get(context.Background(), "org_1")
	assert.ErrorIs(t, err, boom)
	_, err = c.Get(context.Background(), "org_1")
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, calls.Load())
}
