// Package upstream talks to the agent's chat-completion endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/mentorfy/internal/models"
	"go.uber.org/zap"
)

// ErrStatus is returned when the agent answers with a non-2xx status before
// any frame has been streamed.
var ErrStatus = errors.New("upstream returned an error status")

const maxErrorBody = 4 << 10

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message          string              `json:"message"`
	ConversationID   string              `json:"conversation_id"`
	BotID            string              `json:"bot_id"`
	OrgID            string              `json:"org_id"`
	FileAttachments  []models.Attachment `json:"file_attachments,omitempty"`
	PreviousMessages []HistoryMessage    `json:"previous_messages"`
}

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *zap.Logger
}

// New returns a client posting to endpoint. connectTimeout bounds dialing and
// waiting for response headers; the body itself is unbounded and governed by
// the caller's context.
func New(endpoint, apiKey string, connectTimeout time.Duration, logger *zap.Logger) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: connectTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Transport: transport},
		logger:   logger,
	}
}

// Stream posts req and returns the event-stream body. The caller must close it.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if req.PreviousMessages == nil {
		req.PreviousMessages = []HistoryMessage{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		c.logger.Warn("Agent rejected chat request",
			zap.Int("status", resp.StatusCode),
			zap.String("conversation_id", req.ConversationID))
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp.Body, nil
}
