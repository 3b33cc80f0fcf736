package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"budgetsync/internal/core"
)

const transactionColumns = `id, description, amount, created_at, category_id, sync_status, updated_at`

// SaveTransaction assigns an id when missing and upserts the transaction.
func (r *SQLiteRepository) SaveTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	return r.saveTransaction(ctx, r.db, t)
}

// SaveTransactionForSync writes the transaction as pending and enqueues its
// upsert in the same transaction.
func (r *SQLiteRepository) SaveTransactionForSync(ctx context.Context, userID string, t core.Transaction) (core.Transaction, SyncItem, error) {
	var (
		saved core.Transaction
		item  SyncItem
	)
	t.Sync = core.SyncPending
	err := r.inTx(ctx, "save transaction", func(tx *sql.Tx) error {
		var err error
		if saved, err = r.saveTransaction(ctx, tx, t); err != nil {
			return err
		}
		item, err = r.enqueue(ctx, tx, userID, core.KindTransaction, saved.ID, OpUpsert)
		return err
	})
	if err != nil {
		return core.Transaction{}, SyncItem{}, err
	}
	return saved, item, nil
}

func (r *SQLiteRepository) saveTransaction(ctx context.Context, q querier, t core.Transaction) (core.Transaction, error) {
	t.Description = strings.TrimSpace(t.Description)
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.ID == "" {
		t.ID = core.NewID()
	}
	if t.Sync == "" {
		t.Sync = core.SyncPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	t.CreatedAt = core.NormalizeTime(t.CreatedAt)
	t.UpdatedAt = r.timestamp()

	_, err := q.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET description = excluded.description, amount = excluded.amount,
			created_at = excluded.created_at, category_id = excluded.category_id,
			sync_status = excluded.sync_status, updated_at = excluded.updated_at`,
		t.ID, t.Description, t.Amount.String(), toMillis(t.CreatedAt), t.CategoryID,
		string(t.Sync), toMillis(t.UpdatedAt))
	if err != nil {
		return core.Transaction{}, persistErr("save transaction", err)
	}
	return t, nil
}

// ListTransactions returns every transaction, newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, persistErr("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, persistErr("list transactions", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, persistErr("get transaction", err)
	}
	return t, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	return deleteRow(ctx, r.db, "transactions", "transaction", id)
}

// DeleteTransactionForSync deletes the transaction locally and enqueues the remote delete.
func (r *SQLiteRepository) DeleteTransactionForSync(ctx context.Context, userID, id string) (SyncItem, error) {
	var item SyncItem
	err := r.inTx(ctx, "delete transaction", func(tx *sql.Tx) error {
		if err := deleteRow(ctx, tx, "transactions", "transaction", id); err != nil {
			return err
		}
		var err error
		item, err = r.enqueue(ctx, tx, userID, core.KindTransaction, id, OpDelete)
		return err
	})
	return item, err
}

// ApplyRemoteTransaction materializes a pulled transaction as synced unless
// the entity has unfinished local work.
func (r *SQLiteRepository) ApplyRemoteTransaction(ctx context.Context, t core.Transaction) (bool, error) {
	applied := false
	err := r.inTx(ctx, "apply remote transaction", func(tx *sql.Tx) error {
		busy, err := hasUnfinishedSync(ctx, tx, core.KindTransaction, t.ID)
		if err != nil || busy {
			return err
		}
		t.Sync = core.SyncSynced
		if _, err := r.saveTransaction(ctx, tx, t); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		t                    core.Transaction
		amount, state        string
		createdAt, updatedAt int64
	)
	if err := s.Scan(&t.ID, &t.Description, &amount, &createdAt, &t.CategoryID, &state, &updatedAt); err != nil {
		return core.Transaction{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s amount %q: %w", t.ID, amount, err)
	}
	t.Amount = d
	t.CreatedAt = fromMillis(createdAt)
	t.Sync = core.SyncState(state)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}
