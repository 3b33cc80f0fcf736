package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"budgetsync/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the on-device store for categories, transactions and
// the durable sync queue. All access goes through a single connection, so
// writes are serialized.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, dbPath: dbPath, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Reset destroys and recreates the whole local store. Used on sign-out.
func (r *SQLiteRepository) Reset(ctx context.Context) error {
	if err := recreateSchema(r.dbPath); err != nil {
		return &core.PersistenceError{Op: "reset", Err: err}
	}
	slog.InfoContext(ctx, "Local store reset", "path", r.dbPath)
	return nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.PersistenceError{Op: op, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &core.PersistenceError{Op: op, Err: fmt.Errorf("commit transaction: %w", err)}
	}
	return nil
}

func (r *SQLiteRepository) timestamp() time.Time {
	return core.NormalizeTime(r.now())
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func persistErr(op string, err error) error {
	return &core.PersistenceError{Op: op, Err: err}
}

// SetEntitySyncState records the sync outcome on an entity row. A row that no
// longer exists is not an error.
func (r *SQLiteRepository) SetEntitySyncState(ctx context.Context, kind core.Kind, id string, state core.SyncState) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		"UPDATE "+table+" SET sync_status = ? WHERE id = ?", string(state), id)
	if err != nil {
		return persistErr("set sync state", err)
	}
	return nil
}

// SyncedIDs returns the ids of kind that are synced and have no unfinished
// queue work, the rows a later PruneSynced may remove.
func (r *SQLiteRepository) SyncedIDs(ctx context.Context, kind core.Kind) (map[string]struct{}, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return syncedIDs(ctx, r.db, table, kind)
}

func syncedIDs(ctx context.Context, q querier, table string, kind core.Kind) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id FROM "+table+" WHERE sync_status = ? AND id NOT IN ("+unfinishedEntityIDs+")",
		string(core.SyncSynced), string(kind))
	if err != nil {
		return nil, persistErr("list synced "+table, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("list synced "+table, err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list synced "+table, err)
	}
	return ids, nil
}

// PruneSynced deletes rows of kind that are in candidates but not in keep and
// are still synced with no unfinished queue work. Rows that became synced
// after candidates was taken are never removed. It returns the number of
// rows removed.
func (r *SQLiteRepository) PruneSynced(ctx context.Context, kind core.Kind, candidates, keep map[string]struct{}) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = r.inTx(ctx, "prune "+table, func(tx *sql.Tx) error {
		current, err := syncedIDs(ctx, tx, table, kind)
		if err != nil {
			return err
		}
		var stale []string
		for id := range current {
			if _, ok := candidates[id]; !ok {
				continue
			}
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
				return persistErr("prune "+table, err)
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func tableFor(kind core.Kind) (string, error) {
	switch kind {
	case core.KindCategory:
		return "categories", nil
	case core.KindTransaction:
		return "transactions", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}
