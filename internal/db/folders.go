package db

import (
	"context"
	"database/sql"

	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/google/uuid"
)

func (db *Database) CreateFolder(ctx context.Context, f *models.Folder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = db.now()

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO folders (id, org_id, parent_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.OrgID, nullable(f.ParentID), f.Name, f.CreatedAt)
	return err
}

func (db *Database) ListFolders(ctx context.Context, orgID string) ([]models.Folder, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, org_id, parent_id, name, created_at
		FROM folders WHERE org_id = ? ORDER BY created_at ASC, rowid ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	folders := make([]models.Folder, 0)
	for rows.Next() {
		var f models.Folder
		var parent sql.NullString
		if err := rows.Scan(&f.ID, &f.OrgID, &parent, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.ParentID = parent.String
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func (db *Database) RenameFolder(ctx context.Context, orgID, id, name string) error {
	res, err := db.db.ExecContext(ctx, "UPDATE folders SET name = ? WHERE id = ? AND org_id = ?", name, id, orgID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// MoveFolder reparents a folder. The parent chain is re-checked inside the
// transaction so concurrent moves can't store a cycle.
func (db *Database) MoveFolder(ctx context.Context, orgID, id, parentID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if parentID != "" {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM folders WHERE id = ? AND org_id = ?", parentID, orgID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		var loops int
		err := tx.QueryRowContext(ctx, `
			WITH RECURSIVE chain(id) AS (
				SELECT ?
				UNION
				SELECT f.parent_id FROM folders f JOIN chain c ON f.id = c.id
				WHERE f.org_id = ? AND f.parent_id IS NOT NULL
			)
			SELECT COUNT(*) FROM chain WHERE id = ?`,
			parentID, orgID, id).Scan(&loops)
		if err != nil {
			return err
		}
		if loops > 0 {
			return ErrFolderCycle
		}
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE folders SET parent_id = ? WHERE id = ? AND org_id = ?", nullable(parentID), id, orgID)
	if err != nil {
		return err
	}
	if err := expectRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFolders removes the given folders in one transaction and detaches
// any knowledge filed under them.
func (db *Database) DeleteFolders(ctx context.Context, orgID string, ids []string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE knowledge SET folder_id = NULL WHERE folder_id = ? AND org_id = ?", id, orgID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id = ? AND org_id = ?", id, orgID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
