package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgetsync/internal/amqp"
	"budgetsync/internal/core"
	"budgetsync/internal/services"
	"budgetsync/internal/storage"
)

// SyncWorker turns AMQP sync messages into remote pushes. The durable queue
// is the source of truth: a message only says which item to look at.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	processor *services.SyncProcessor
}

func NewSyncWorker(storage *storage.SQLiteRepository, processor *services.SyncProcessor) *SyncWorker {
	return &SyncWorker{storage: storage, processor: processor}
}

// HandleSyncMessage processes the queue item named by msg. Remote failures
// are already recorded on the item with its retry schedule, so the message
// is acknowledged; only local errors ask for redelivery.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"queue_id", msg.QueueID,
		"kind", msg.Kind,
		"entity_id", msg.EntityID,
		"operation", msg.Operation)

	err := w.processor.ProcessByID(ctx, msg.QueueID)
	if err == nil {
		return nil
	}
	var re *core.RemoteError
	if errors.As(err, &re) {
		slog.WarnContext(ctx, "Remote push deferred to reconciler",
			"queue_id", msg.QueueID,
			"error", err)
		return nil
	}
	return fmt.Errorf("process sync item %d: %w", msg.QueueID, err)
}

// StartupSyncCheck re-arms items left in processing by a previous run and
// drains whatever is due. This recovers from missed AMQP messages or worker
// downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	stale, err := w.storage.ResetStaleProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}

	stats, err := w.storage.GetSyncQueueStats(ctx)
	if err != nil {
		return fmt.Errorf("get sync queue stats: %w", err)
	}
	if stats.Pending == 0 {
		slog.InfoContext(ctx, "No pending sync items found on startup", "failed", stats.Failed)
		return nil
	}

	slog.InfoContext(ctx, "Found pending sync items on startup, processing...",
		"pending", stats.Pending,
		"reset_stale", stale)

	total, err := w.processor.Drain(ctx)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"pending", stats.Pending,
		"synced", total)
	return nil
}
