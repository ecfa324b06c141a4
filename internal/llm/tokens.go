package llm

import (
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the tokens of a piece of text.
type Counter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return len(text)/4 + 1
}

// NewCounter returns a tiktoken counter for encoding, or an EstimateCounter
// when the encoding can't be loaded.
func NewCounter(encoding string) (Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return EstimateCounter{}, err
	}
	return tiktokenCounter{enc: enc}, nil
}

// per-message overhead of the chat format
const messageOverhead = 4

// TrimHistory keeps the newest messages whose total token count fits budget
// and returns them oldest first.
func TrimHistory(history []upstream.HistoryMessage, budget int, c Counter) []upstream.HistoryMessage {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := c.Count(history[i].Content) + messageOverhead
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}
