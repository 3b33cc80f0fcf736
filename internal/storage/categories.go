package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"budgetsync/internal/core"
)

// SaveCategory assigns an id when missing and upserts the category.
func (r *SQLiteRepository) SaveCategory(ctx context.Context, c core.Category) (core.Category, error) {
	return r.saveCategory(ctx, r.db, c)
}

// SaveCategoryForSync writes the category as pending and enqueues its upsert
// in the same transaction.
func (r *SQLiteRepository) SaveCategoryForSync(ctx context.Context, userID string, c core.Category) (core.Category, SyncItem, error) {
	var (
		saved core.Category
		item  SyncItem
	)
	c.Sync = core.SyncPending
	err := r.inTx(ctx, "save category", func(tx *sql.Tx) error {
		var err error
		if saved, err = r.saveCategory(ctx, tx, c); err != nil {
			return err
		}
		item, err = r.enqueue(ctx, tx, userID, core.KindCategory, saved.ID, OpUpsert)
		return err
	})
	if err != nil {
		return core.Category{}, SyncItem{}, err
	}
	return saved, item, nil
}

func (r *SQLiteRepository) saveCategory(ctx context.Context, q querier, c core.Category) (core.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if c.ID == "" {
		c.ID = core.NewID()
	}
	if c.Sync == "" {
		c.Sync = core.SyncPending
	}
	c.UpdatedAt = r.timestamp()

	_, err := q.ExecContext(ctx,
		`INSERT INTO categories (id, name, sync_status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, sync_status = excluded.sync_status,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, string(c.Sync), toMillis(c.UpdatedAt))
	if err != nil {
		return core.Category{}, persistErr("save category", err)
	}
	return c, nil
}

// ListCategories returns every category in insertion order.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, sync_status, updated_at FROM categories ORDER BY seq`)
	if err != nil {
		return nil, persistErr("list categories", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, persistErr("list categories", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list categories", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT id, name, sync_status, updated_at FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, persistErr("get category", err)
	}
	return c, nil
}

// DeleteCategory removes the category. Transactions referencing it are left untouched.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	return deleteRow(ctx, r.db, "categories", "category", id)
}

// DeleteCategoryForSync deletes the category locally and enqueues the remote delete.
func (r *SQLiteRepository) DeleteCategoryForSync(ctx context.Context, userID, id string) (SyncItem, error) {
	var item SyncItem
	err := r.inTx(ctx, "delete category", func(tx *sql.Tx) error {
		if err := deleteRow(ctx, tx, "categories", "category", id); err != nil {
			return err
		}
		var err error
		item, err = r.enqueue(ctx, tx, userID, core.KindCategory, id, OpDelete)
		return err
	})
	return item, err
}

// ApplyRemoteCategory materializes a pulled category as synced. Entities with
// unfinished local work are left alone and reported as not applied.
func (r *SQLiteRepository) ApplyRemoteCategory(ctx context.Context, c core.Category) (bool, error) {
	applied := false
	err := r.inTx(ctx, "apply remote category", func(tx *sql.Tx) error {
		busy, err := hasUnfinishedSync(ctx, tx, core.KindCategory, c.ID)
		if err != nil || busy {
			return err
		}
		c.Sync = core.SyncSynced
		if _, err := r.saveCategory(ctx, tx, c); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func scanCategory(s rowScanner) (core.Category, error) {
	var (
		c         core.Category
		state     string
		updatedAt int64
	)
	if err := s.Scan(&c.ID, &c.Name, &state, &updatedAt); err != nil {
		return core.Category{}, err
	}
	c.Sync = core.SyncState(state)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func deleteRow(ctx context.Context, q querier, table, noun, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return persistErr("delete from "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete from "+table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", noun, id, core.ErrNotFound)
	}
	return nil
}
