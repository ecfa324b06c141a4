package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"
)

const readSize = 4096

var (
	eventPrefix = []byte("event:")
	dataPrefix  = []byte("data:")
)

// Parser turns arbitrary chunks of an SSE byte stream into frames. A frame
// may span several chunks and one chunk may carry several frames; the
// trailing partial line is held back until the next Feed.
type Parser struct {
	buf    []byte
	event  EventType
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Feed appends chunk to the rolling buffer and returns the frames completed by it.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		if f, ok := p.line(line); ok {
			frames = append(frames, f)
		}
		p.buf = p.buf[i+1:]
	}

	// Compact so a long stream doesn't pin every chunk it has seen.
	if len(p.buf) == 0 {
		p.buf = nil
	} else if cap(p.buf) > 2*readSize && len(p.buf) < cap(p.buf)/4 {
		p.buf = append([]byte(nil), p.buf...)
	}
	return frames
}

// Flush processes whatever is left in the buffer as a final line. It is
// called once the underlying stream has ended.
func (p *Parser) Flush() []Frame {
	if len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil
	if f, ok := p.line(line); ok {
		return []Frame{f}
	}
	return nil
}

func (p *Parser) line(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))

	switch {
	case len(line) == 0:
		p.event = ""
		return Frame{}, false
	case line[0] == ':':
		return Frame{}, false
	case bytes.HasPrefix(line, eventPrefix):
		p.event = EventType(bytes.TrimSpace(line[len(eventPrefix):]))
		return Frame{}, false
	case bytes.HasPrefix(line, dataPrefix):
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if !json.Valid(data) {
			p.logger.Warn("Dropping malformed SSE data",
				zap.String("event", string(p.event)),
				zap.ByteString("data", data))
			return Frame{}, false
		}
		return Frame{Event: p.event, Data: append(json.RawMessage(nil), data...)}, true
	default:
		// id:, retry: and unknown fields
		return Frame{}, false
	}
}

// Reader pulls frames out of an io.Reader one at a time.
type Reader struct {
	r       io.Reader
	parser  *Parser
	pending []Frame
	chunk   []byte
	err     error
}

func NewReader(r io.Reader, logger *zap.Logger) *Reader {
	return &Reader{
		r:      r,
		parser: NewParser(logger),
		chunk:  make([]byte, readSize),
	}
}

// Next returns the next frame. It returns io.EOF once the stream has ended
// cleanly and every buffered frame has been returned.
func (r *Reader) Next() (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.parser.Feed(r.chunk[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.pending = append(r.pending, r.parser.Flush()...)
			}
			r.err = err
		}
	}

	f := r.pending[0]
	r.pending = r.pending[1:]
	return f, nil
}
