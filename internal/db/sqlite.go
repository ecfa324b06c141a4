package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrFolderCycle = errors.New("folder cannot be moved inside itself")
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 0.7,
		greeting TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		bot_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		greeting_state TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		attachments TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		ttft_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		parent_id TEXT,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		folder_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts4(
		title,
		content,
		tokenize=porter
	)`,

	`CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge BEGIN
		INSERT INTO knowledge_fts(docid, title, content)
		VALUES (new.rowid, new.title, new.content);
	END`,

	`CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge BEGIN
		DELETE FROM knowledge_fts WHERE docid = old.rowid;
	END`,

	`CREATE TRIGGER IF NOT EXISTS knowledge_au AFTER UPDATE ON knowledge BEGIN
		DELETE FROM knowledge_fts WHERE docid = old.rowid;
		INSERT INTO knowledge_fts(docid, title, content)
		VALUES (new.rowid, new.title, new.content);
	END`,

	`CREATE INDEX IF NOT EXISTS idx_bots_org ON bots(org_id)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_org_updated ON conversations(org_id, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_folders_org ON folders(org_id)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_org ON knowledge(org_id)`,
}

type Database struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return &Database{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = db.now()
	}

	var attachments string
	if len(msg.Attachments) > 0 {
		raw, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("failed to marshal attachments: %w", err)
		}
		attachments = string(raw)
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, attachments, token_count, ttft_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConvID, msg.Role, msg.Content, attachments, msg.TokenCount, msg.TimeToFirstMs, msg.CreatedAt)
	return err
}

func (db *Database) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Title == "" {
		conv.Title = "New conversation"
	}
	conv.GreetingState = models.GreetingPending
	conv.CreatedAt = db.now()
	conv.UpdatedAt = conv.CreatedAt

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO conversations (id, org_id, bot_id, user_id, title, greeting_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OrgID, conv.BotID, conv.UserID, conv.Title, conv.GreetingState, conv.CreatedAt, conv.UpdatedAt)
	return err
}

const conversationColumns = `id, org_id, bot_id, user_id, title, greeting_state, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.OrgID, &c.BotID, &c.UserID, &c.Title, &c.GreetingState, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (db *Database) GetConversation(ctx context.Context, orgID, id string) (*models.Conversation, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND org_id = ?`, id, orgID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *Database) GetConversations(ctx context.Context, orgID string) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE org_id = ? ORDER BY updated_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// GetConversationHistory returns the last limit messages, oldest first.
func (db *Database) GetConversationHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, attachments, token_count, ttft_ms, created_at FROM (
			SELECT rowid AS seq, * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var attachments string
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &attachments,
			&msg.TokenCount, &msg.TimeToFirstMs, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments of %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *Database) TouchConversation(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", db.now(), id)
	return err
}

func (db *Database) UpdateConversationTitle(ctx context.Context, orgID, id, title string) error {
	res, err := db.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND org_id = ?", title, db.now(), id, orgID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// FireGreeting moves a conversation's greeting from pending to fired and
// reports whether this call made the transition.
func (db *Database) FireGreeting(ctx context.Context, id string) (bool, error) {
	res, err := db.db.ExecContext(ctx,
		"UPDATE conversations SET greeting_state = ? WHERE id = ? AND greeting_state = ?",
		models.GreetingFired, id, models.GreetingPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (db *Database) DeleteConversation(ctx context.Context, orgID, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND org_id = ?", id, orgID)
	if err != nil {
		return err
	}
	if err := expectRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) SaveToKnowledgeBase(ctx context.Context, entry *models.KnowledgeEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = db.now()

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO knowledge (id, org_id, folder_id, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrgID, nullable(entry.FolderID), entry.Title, entry.Content, entry.CreatedAt)
	return err
}

// SearchKnowledge runs a full-text search over an organization's knowledge
// base. Any word of query may match.
func (db *Database) SearchKnowledge(ctx context.Context, orgID, query string, limit int) ([]models.KnowledgeEntry, error) {
	match := ftsQuery(query)
	if match == "" {
		return []models.KnowledgeEntry{}, nil
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT k.id, k.org_id, k.folder_id, k.title, k.content, k.created_at
		FROM knowledge k
		JOIN knowledge_fts fts ON k.rowid = fts.docid
		WHERE knowledge_fts MATCH ? AND k.org_id = ?
		ORDER BY k.created_at DESC
		LIMIT ?`, match, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}
	defer rows.Close()

	results := make([]models.KnowledgeEntry, 0)
	for rows.Next() {
		var e models.KnowledgeEntry
		var folder sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &folder, &e.Title, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		e.FolderID = folder.String
		results = append(results, e)
	}
	return results, rows.Err()
}

// ftsQuery reduces free text to an OR of its words so punctuation can't
// break the MATCH syntax.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
