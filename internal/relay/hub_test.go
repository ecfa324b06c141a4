package relay

import (
	"testing"

	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversPerConversation(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	a, unsubA := hub.Subscribe("conv_a")
	b, unsubB := hub.Subscribe("conv_b")
	defer unsubB()

	hub.Observe(Update{ConversationID: "conv_a", Frame: sse.Frame{Event: sse.EventTextDelta}})

	require.Len(t, a, 1)
	assert.Len(t, b, 0)
	u := <-a
	assert.Equal(t, sse.EventTextDelta, u.Frame.Event)

	assert.Equal(t, 1, hub.Subscribers("conv_a"))
	unsubA()
	unsubA()
	assert.Equal(t, 0, hub.Subscribers("conv_a"))

	_, open := <-a
	assert.False(t, open)

	// publishing with nobody listening is a no-op
	hub.Observe(Update{ConversationID: "conv_a"})
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	ch, unsub := hub.Subscribe("conv")
	defer unsub()

	hub.Observe(Update{ConversationID: "conv", ExchangeID: "1"})
	hub.Observe(Update{ConversationID: "conv", ExchangeID: "2"})

	require.Len(t, ch, 1)
	assert.Equal(t, "1", (<-ch).ExchangeID)
}
