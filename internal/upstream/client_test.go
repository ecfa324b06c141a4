package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStreamPostsContract(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: done\ndata: {\"content\":\"hi\"}\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second, zap.NewNop())
	body, err := c.Stream(context.Background(), ChatRequest{
		Message:        "hello",
		ConversationID: "c1",
		BotID:          "b1",
		OrgID:          "o1",
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: done")

	assert.Equal(t, "hello", got["message"])
	assert.Equal(t, "c1", got["conversation_id"])
	assert.Equal(t, "b1", got["bot_id"])
	assert.Equal(t, []any{}, got["previous_messages"])
	assert.NotContains(t, got, "file_attachments")
}

func TestStreamNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bot not found", http.StatusNotFound)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	c := New(srv.URL, "", time.Second, zap.New(core))
	_, err := c.Stream(context.Background(), ChatRequest{Message: "x", ConversationID: "c1"})
	require.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "bot not found")

	entries := logs.FilterMessage("Agent rejected chat request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusNotFound), entries[0].ContextMap()["status"])
}

func TestStreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "", 200*time.Millisecond, zap.NewNop())
	_, err := c.Stream(context.Background(), ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)
}
