package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"budgetsync/internal/core"
)

// Operation is the remote action a queue item asks for.
type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// QueueStatus is the lifecycle of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// SyncItem is one durable unit of remote work.
type SyncItem struct {
	ID            int64
	UserID        string
	Kind          core.Kind
	EntityID      string
	Operation     Operation
	Status        QueueStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncQueueStats counts queue items per status.
type SyncQueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// Entity ids with queue work that has not been confirmed remotely.
// Takes the entity kind as its single parameter.
const unfinishedEntityIDs = `SELECT entity_id FROM sync_queue
	WHERE entity_kind = ? AND status IN ('pending', 'processing', 'failed')`

const syncItemColumns = `id, user_id, entity_kind, entity_id, operation, status, attempts,
	last_error, next_attempt_at, created_at, updated_at`

// EnqueueSync adds a queue item outside of an entity write.
func (r *SQLiteRepository) EnqueueSync(ctx context.Context, userID string, kind core.Kind, entityID string, op Operation) (SyncItem, error) {
	var item SyncItem
	err := r.inTx(ctx, "enqueue sync", func(tx *sql.Tx) error {
		var err error
		item, err = r.enqueue(ctx, tx, userID, kind, entityID, op)
		return err
	})
	return item, err
}

// enqueue coalesces repeated upserts of one entity into the pending item and
// lets a newer write supersede earlier work: an upsert supersedes failed
// upserts, a delete supersedes pending and failed ones.
func (r *SQLiteRepository) enqueue(ctx context.Context, q querier, userID string, kind core.Kind, entityID string, op Operation) (SyncItem, error) {
	if !kind.Valid() {
		return SyncItem{}, persistErr("enqueue sync", fmt.Errorf("unknown entity kind %q", kind))
	}
	now := toMillis(r.timestamp())

	switch op {
	case OpUpsert:
		// A newer edit carries the full entity, so upserts that gave up are
		// superseded and no longer hold the entity back from being synced.
		if _, err := q.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, last_error = 'superseded by newer edit', updated_at = ?
			WHERE entity_kind = ? AND entity_id = ? AND operation = ? AND status = ?`,
			string(QueueCompleted), now, string(kind), entityID, string(OpUpsert),
			string(QueueFailed)); err != nil {
			return SyncItem{}, persistErr("enqueue sync", err)
		}
		existing, err := scanSyncItem(q.QueryRowContext(ctx,
			`SELECT `+syncItemColumns+` FROM sync_queue
			WHERE entity_kind = ? AND entity_id = ? AND user_id = ? AND operation = ? AND status = ?
			ORDER BY id DESC LIMIT 1`,
			string(kind), entityID, userID, string(OpUpsert), string(QueuePending)))
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return SyncItem{}, persistErr("enqueue sync", err)
		}
	case OpDelete:
		if _, err := q.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, last_error = 'superseded by delete', updated_at = ?
			WHERE entity_kind = ? AND entity_id = ? AND operation = ? AND status IN (?, ?)`,
			string(QueueCompleted), now, string(kind), entityID, string(OpUpsert),
			string(QueuePending), string(QueueFailed)); err != nil {
			return SyncItem{}, persistErr("enqueue sync", err)
		}
	default:
		return SyncItem{}, persistErr("enqueue sync", fmt.Errorf("unknown operation %q", op))
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO sync_queue (user_id, entity_kind, entity_id, operation, status, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, string(kind), entityID, string(op), string(QueuePending), now, now, now)
	if err != nil {
		return SyncItem{}, persistErr("enqueue sync", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SyncItem{}, persistErr("enqueue sync", err)
	}

	ts := fromMillis(now)
	return SyncItem{
		ID:            id,
		UserID:        userID,
		Kind:          kind,
		EntityID:      entityID,
		Operation:     op,
		Status:        QueuePending,
		NextAttemptAt: ts,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}, nil
}

// DequeueSyncBatch returns up to limit pending items that are due at now,
// oldest first. Items are not claimed; see ClaimSyncItem.
func (r *SQLiteRepository) DequeueSyncBatch(ctx context.Context, limit int, now time.Time) ([]SyncItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncItemColumns+` FROM sync_queue
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id LIMIT ?`,
		string(QueuePending), toMillis(now), limit)
	if err != nil {
		return nil, persistErr("dequeue sync batch", err)
	}
	defer rows.Close()

	var items []SyncItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, persistErr("dequeue sync batch", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("dequeue sync batch", err)
	}
	return items, nil
}

// ClaimSyncItem moves a pending item to processing. It reports false when
// another worker got there first or the item is no longer pending.
func (r *SQLiteRepository) ClaimSyncItem(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(QueueProcessing), toMillis(r.timestamp()), id, string(QueuePending))
	if err != nil {
		return false, persistErr("claim sync item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("claim sync item", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) GetSyncItem(ctx context.Context, id int64) (SyncItem, error) {
	item, err := scanSyncItem(r.db.QueryRowContext(ctx,
		`SELECT `+syncItemColumns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SyncItem{}, fmt.Errorf("sync item %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return SyncItem{}, persistErr("get sync item", err)
	}
	return item, nil
}

func (r *SQLiteRepository) MarkSyncComplete(ctx context.Context, id int64) error {
	return r.setQueueStatus(ctx, "mark sync complete", id, QueueCompleted, "")
}

// MarkSyncFailed gives up on an item after its final attempt.
func (r *SQLiteRepository) MarkSyncFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		string(QueueFailed), errMsg, toMillis(r.timestamp()), id)
	if err != nil {
		return persistErr("mark sync failed", err)
	}
	return nil
}

// IncrementSyncAttempt records a failed attempt and schedules the next one.
func (r *SQLiteRepository) IncrementSyncAttempt(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		string(QueuePending), errMsg, toMillis(nextAttemptAt), toMillis(r.timestamp()), id)
	if err != nil {
		return persistErr("increment sync attempt", err)
	}
	return nil
}

func (r *SQLiteRepository) setQueueStatus(ctx context.Context, op string, id int64, status QueueStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, toMillis(r.timestamp()), id)
	if err != nil {
		return persistErr(op, err)
	}
	return nil
}

// ResetStaleProcessing returns items left in processing by a crashed run to pending.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`,
		string(QueuePending), toMillis(r.timestamp()), string(QueueProcessing))
	if err != nil {
		return 0, persistErr("reset stale processing", err)
	}
	return res.RowsAffected()
}

// CleanupCompletedSyncs deletes completed items last touched before the cutoff.
func (r *SQLiteRepository) CleanupCompletedSyncs(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ? AND updated_at < ?`,
		string(QueueCompleted), toMillis(before))
	if err != nil {
		return 0, persistErr("cleanup completed syncs", err)
	}
	return res.RowsAffected()
}

// RetryFailedSyncs re-arms every failed item and flips failed entities back to pending.
func (r *SQLiteRepository) RetryFailedSyncs(ctx context.Context) (int64, error) {
	var n int64
	err := r.inTx(ctx, "retry failed syncs", func(tx *sql.Tx) error {
		now := toMillis(r.timestamp())
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET status = ?, attempts = 0, next_attempt_at = ?, updated_at = ? WHERE status = ?`,
			string(QueuePending), now, now, string(QueueFailed))
		if err != nil {
			return persistErr("retry failed syncs", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return persistErr("retry failed syncs", err)
		}
		for _, table := range []string{"categories", "transactions"} {
			if _, err := tx.ExecContext(ctx,
				"UPDATE "+table+" SET sync_status = ? WHERE sync_status = ?",
				string(core.SyncPending), string(core.SyncFailed)); err != nil {
				return persistErr("retry failed syncs", err)
			}
		}
		return nil
	})
	return n, err
}

func (r *SQLiteRepository) GetSyncQueueStats(ctx context.Context) (SyncQueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return SyncQueueStats{}, persistErr("sync queue stats", err)
	}
	defer rows.Close()

	var stats SyncQueueStats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return SyncQueueStats{}, persistErr("sync queue stats", err)
		}
		switch QueueStatus(status) {
		case QueuePending:
			stats.Pending = count
		case QueueProcessing:
			stats.Processing = count
		case QueueCompleted:
			stats.Completed = count
		case QueueFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return SyncQueueStats{}, persistErr("sync queue stats", err)
	}
	return stats, nil
}

// HasUnfinishedSync reports whether the entity has queue work not yet confirmed remotely.
func (r *SQLiteRepository) HasUnfinishedSync(ctx context.Context, kind core.Kind, entityID string) (bool, error) {
	return hasUnfinishedSync(ctx, r.db, kind, entityID)
}

func hasUnfinishedSync(ctx context.Context, q querier, kind core.Kind, entityID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue
		WHERE entity_kind = ? AND entity_id = ? AND status IN ('pending', 'processing', 'failed')`,
		string(kind), entityID).Scan(&n)
	if err != nil {
		return false, persistErr("check unfinished sync", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncItem(s rowScanner) (SyncItem, error) {
	var (
		item                         SyncItem
		kind, op, status             string
		nextAt, createdAt, updatedAt int64
	)
	if err := s.Scan(&item.ID, &item.UserID, &kind, &item.EntityID, &op, &status, &item.Attempts,
		&item.LastError, &nextAt, &createdAt, &updatedAt); err != nil {
		return SyncItem{}, err
	}
	item.Kind = core.Kind(kind)
	item.Operation = Operation(op)
	item.Status = QueueStatus(status)
	item.NextAttemptAt = fromMillis(nextAt)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}
