// Package sse decodes and encodes the newline-delimited Server-Sent Events
// stream exchanged between the agent, the relay and the browser.
package sse

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolStatus    EventType = "tool_status"
	EventThinkingStart EventType = "thinking_start"
	EventThinkingDelta EventType = "thinking_delta"
	EventThinkingEnd   EventType = "thinking_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"

	// EventCancelled is only emitted by the relay towards the browser.
	EventCancelled EventType = "cancelled"
)

// Terminal reports whether the event ends an exchange.
func (e EventType) Terminal() bool {
	return e == EventDone || e == EventError || e == EventCancelled
}

type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type TextDelta struct {
	Delta string `json:"delta"`
}

type ToolStatus struct {
	Message string `json:"message"`
}

type Done struct {
	Content string `json:"content"`
}

type Cancelled struct {
	Content string `json:"content"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewFrame marshals payload into a frame of the given type.
func NewFrame(event EventType, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", f.Event, err)
	}
	return nil
}
