package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const helloStream = "event: text_delta\ndata: {\"delta\":\"Hel\"}\n\n" +
	"event: tool_status\ndata: {\"message\":\"Searching knowledge base...\"}\n\n" +
	"event: thinking_start\ndata: {}\n\n" +
	"event: text_delta\ndata: {\"delta\":\"lo\"}\n\n" +
	"event: done\ndata: {\"content\":\"Hello\"}\n\n"

func feedAll(p *Parser, chunks ...string) []Frame {
	var frames []Frame
	for _, c := range chunks {
		frames = append(frames, p.Feed([]byte(c))...)
	}
	return append(frames, p.Flush()...)
}

func TestParserSingleChunk(t *testing.T) {
	frames := feedAll(NewParser(nil), helloStream)
	require.Len(t, frames, 5)

	assert.Equal(t, EventTextDelta, frames[0].Event)
	assert.JSONEq(t, `{"delta":"Hel"}`, string(frames[0].Data))
	assert.Equal(t, EventToolStatus, frames[1].Event)
	assert.Equal(t, EventThinkingStart, frames[2].Event)
	assert.Equal(t, EventDone, frames[4].Event)

	var done Done
	require.NoError(t, frames[4].Decode(&done))
	assert.Equal(t, "Hello", done.Content)
}

func TestParserChunkBoundaries(t *testing.T) {
	want := feedAll(NewParser(nil), helloStream)

	// every split point, including ones inside "event:" and the JSON body
	for i := 0; i <= len(helloStream); i++ {
		got := feedAll(NewParser(nil), helloStream[:i], helloStream[i:])
		require.Equal(t, want, got, "split at %d", i)
	}

	// one byte per read
	var chunks []string
	for _, b := range []byte(helloStream) {
		chunks = append(chunks, string(b))
	}
	assert.Equal(t, want, feedAll(NewParser(nil), chunks...))
}

func TestParserMultibyteSplit(t *testing.T) {
	stream := "event: text_delta\ndata: {\"delta\":\"héllo ✓\"}\n\n"
	idx := strings.Index(stream, "✓") + 1 // inside the rune

	frames := feedAll(NewParser(nil), stream[:idx], stream[idx:])
	require.Len(t, frames, 1)

	var d TextDelta
	require.NoError(t, frames[0].Decode(&d))
	assert.Equal(t, "héllo ✓", d.Delta)
}

func TestParserCRLFAndComments(t *testing.T) {
	stream := ": ping\r\n\r\nevent: text_delta\r\ndata:{\"delta\":\"a\"}\r\n\r\nid: 7\r\nretry: 10\r\n"
	frames := feedAll(NewParser(nil), stream)
	require.Len(t, frames, 1)
	assert.Equal(t, EventTextDelta, frames[0].Event)
	assert.JSONEq(t, `{"delta":"a"}`, string(frames[0].Data))
}

func TestParserMalformedJSONIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewParser(zap.New(core))

	frames := feedAll(p,
		"event: text_delta\ndata: {\"delta\":\"a\"}\n\n",
		"event: text_delta\ndata: {not json\n\n",
		"event: text_delta\ndata: {\"delta\":\"b\"}\n\n",
	)

	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"delta":"b"}`, string(frames[1].Data))
	assert.Equal(t, 1, logs.FilterMessage("Dropping malformed SSE data").Len())
}

func TestParserEventResetsAfterBlankLine(t *testing.T) {
	frames := feedAll(NewParser(nil), "event: tool_status\ndata: {\"message\":\"x\"}\n\ndata: {\"delta\":\"y\"}\n\n")
	require.Len(t, frames, 2)
	assert.Equal(t, EventToolStatus, frames[0].Event)
	assert.Equal(t, EventType(""), frames[1].Event)
}

func TestParserFlushTrailingLine(t *testing.T) {
	p := NewParser(nil)
	assert.Empty(t, p.Feed([]byte("event: done\ndata: {\"content\":\"x\"}")))
	frames := p.Flush()
	require.Len(t, frames, 1)
	assert.Equal(t, EventDone, frames[0].Event)
	assert.Empty(t, p.Flush())
}

func TestReader(t *testing.T) {
	r := NewReader(iotest.OneByteReader(strings.NewReader(helloStream)), nil)

	var events []EventType
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, f.Event)
	}
	assert.Equal(t, []EventType{EventTextDelta, EventToolStatus, EventThinkingStart, EventTextDelta, EventDone}, events)

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSurfacesTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(
		strings.NewReader("event: text_delta\ndata: {\"delta\":\"a\"}\n\n"),
		iotest.ErrReader(boom),
	)
	r := NewReader(src, nil)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventTextDelta, f.Event)

	_, err = r.Next()
	assert.ErrorIs(t, err, boom)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(EventTextDelta, TextDelta{Delta: "Hel"}))
	require.NoError(t, w.Ping())
	require.NoError(t, w.Write(EventDone, Done{Content: "Hello"}))

	assert.Equal(t,
		"event: text_delta\ndata: {\"delta\":\"Hel\"}\n\n: ping\n\nevent: done\ndata: {\"content\":\"Hello\"}\n\n",
		buf.String())

	frames := feedAll(NewParser(nil), buf.String())
	require.Len(t, frames, 2)
	assert.Equal(t, EventDone, frames[1].Event)
}

func TestTerminal(t *testing.T) {
	assert.True(t, EventDone.Terminal())
	assert.True(t, EventError.Terminal())
	assert.True(t, EventCancelled.Terminal())
	assert.False(t, EventTextDelta.Terminal())
	assert.False(t, EventThinkingEnd.Terminal())
}
