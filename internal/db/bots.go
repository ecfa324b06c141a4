package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/google/uuid"
)

const botColumns = `id, org_id, name, system_prompt, model, temperature, greeting, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (models.Bot, error) {
	var b models.Bot
	err := row.Scan(&b.ID, &b.OrgID, &b.Name, &b.SystemPrompt, &b.Model, &b.Temperature, &b.Greeting,
		&b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (db *Database) CreateBot(ctx context.Context, bot *models.Bot) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	bot.CreatedAt = db.now()
	bot.UpdatedAt = bot.CreatedAt

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bot.ID, bot.OrgID, bot.Name, bot.SystemPrompt, bot.Model, bot.Temperature, bot.Greeting,
		bot.CreatedAt, bot.UpdatedAt)
	return err
}

func (db *Database) GetBot(ctx context.Context, orgID, id string) (*models.Bot, error) {
	b, err := scanBot(db.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = ? AND org_id = ?`, id, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBots returns every bot of an organization, oldest first.
func (db *Database) ListBots(ctx context.Context, orgID string) ([]models.Bot, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE org_id = ? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bots := make([]models.Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (db *Database) UpdateBot(ctx context.Context, bot *models.Bot) error {
	bot.UpdatedAt = db.now()
	res, err := db.db.ExecContext(ctx, `
		UPDATE bots SET name = ?, system_prompt = ?, model = ?, temperature = ?, greeting = ?, updated_at = ?
		WHERE id = ? AND org_id = ?`,
		bot.Name, bot.SystemPrompt, bot.Model, bot.Temperature, bot.Greeting, bot.UpdatedAt, bot.ID, bot.OrgID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (db *Database) DeleteBot(ctx context.Context, orgID, id string) error {
	res, err := db.db.ExecContext(ctx, "DELETE FROM bots WHERE id = ? AND org_id = ?", id, orgID)
	if err != nil {
		return err
	}
	return expectRow(res)
}
