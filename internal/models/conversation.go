package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	GreetingPending = "pending"
	GreetingFired   = "fired"
)

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID            string       `json:"id"`
	ConvID        string       `json:"conversation_id"`
	Role          string       `json:"role"` // user or assistant
	Content       string       `json:"content"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	TokenCount    int          `json:"token_count,omitempty"`
	TimeToFirstMs int64        `json:"ttft_ms,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type Conversation struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	BotID         string    `json:"bot_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	GreetingState string    `json:"greeting_state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
