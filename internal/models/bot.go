package models

import "time"

// Bot is a mentor persona configured by an organization.
type Bot struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	Greeting     string    `json:"greeting,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Folder struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	ParentID  string    `json:"parent_id,omitempty"` // empty for root folders
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type KnowledgeEntry struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	FolderID  string    `json:"folder_id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
