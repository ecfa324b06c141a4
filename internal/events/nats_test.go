package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/RichardoC/mentorfy/internal/relay"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func TestPublishesPerConversationSubject(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "mentorfy.stream", zap.NewNop())

	frame, err := sse.NewFrame(sse.EventTextDelta, sse.TextDelta{Delta: "Hel"})
	require.NoError(t, err)
	p.Observe(relay.Update{
		ConversationID: "conv_1",
		ExchangeID:     "x1",
		Frame:          frame,
		Snapshot:       relay.Snapshot{ConversationID: "conv_1", Content: "Hel", Streaming: true},
	})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "mentorfy.stream.conv_1", conn.msgs[0].subject)

	var msg Message
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &msg))
	assert.Equal(t, "text_delta", msg.Event)
	assert.JSONEq(t, `{"delta":"Hel"}`, string(msg.Data))
	assert.Equal(t, "Hel", msg.Snapshot.Content)
	assert.True(t, msg.Snapshot.Streaming)
}

func TestPublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "s", zap.New(core))

	p.Observe(relay.Update{ConversationID: "conv_1", Frame: sse.Frame{Event: sse.EventDone, Data: json.RawMessage(`{}`)}})

	entries := logs.FilterMessage("Failed to publish stream update").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s.conv_1", entries[0].ContextMap()["subject"])
}
