package sse

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer encodes frames onto a response stream, flushing after each write
// when the destination supports it. It is safe for concurrent use so a
// heartbeat goroutine can share it with the frame producer.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// SetHeaders prepares an HTTP response for event streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (w *Writer) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.Event, err)
	}
	w.flush()
	return nil
}

// Write marshals payload and writes it as a frame of the given type.
func (w *Writer) Write(event EventType, payload any) error {
	f, err := NewFrame(event, payload)
	if err != nil {
		return err
	}
	return w.WriteFrame(f)
}

// Ping writes a comment line, which parsers ignore, to keep idle
// connections open through proxies.
func (w *Writer) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
