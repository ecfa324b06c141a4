package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RichardoC/mentorfy/internal/llm"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedResponder struct {
	got upstream.ChatRequest
}

func (s *scriptedResponder) Respond(_ context.Context, req upstream.ChatRequest, w llm.Emitter) error {
	s.got = req
	if err := w.Write(sse.EventTextDelta, sse.TextDelta{Delta: "Hi"}); err != nil {
		return err
	}
	return w.Write(sse.EventDone, sse.Done{Content: "Hi"})
}

func newRouter(svc Responder, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, apiKey, zap.NewNop()).Register(r)
	return r
}

func readFrames(t *testing.T, body string) []sse.Frame {
	t.Helper()
	r := sse.NewReader(strings.NewReader(body), zap.NewNop())
	var frames []sse.Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestChatStreamsFrames(t *testing.T) {
	svc := &scriptedResponder{}
	r := newRouter(svc, "")

	body := `{"message":"hello","conversation_id":"c1","bot_id":"b1","org_id":"o1","previous_messages":[{"role":"user","content":"earlier"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	frames := readFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, sse.EventTextDelta, frames[0].Event)
	assert.Equal(t, sse.EventDone, frames[1].Event)

	assert.Equal(t, "o1", svc.got.OrgID)
	require.Len(t, svc.got.PreviousMessages, 1)
	assert.Equal(t, "earlier", svc.got.PreviousMessages[0].Content)
}

func TestChatRejectsBadRequests(t *testing.T) {
	r := newRouter(&scriptedResponder{}, "")

	for _, body := range []string{`not json`, `{"message":"  ","org_id":"o1","bot_id":"b1"}`, `{"message":"hi"}`} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	r := newRouter(&scriptedResponder{}, "secret")
	body := `{"message":"hello","bot_id":"b1","org_id":"o1"}`

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
