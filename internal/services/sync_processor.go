package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
	"budgetsync/internal/storage"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for due items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the number of attempts before an item is marked failed (default: 5)
	MaxRetries int

	// BaseBackoff is the delay after the first failure; it doubles per attempt (default: 1s)
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay (default: 5m)
	MaxBackoff time.Duration

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		BaseBackoff:     time.Second,
		MaxBackoff:      5 * time.Minute,
		CleanupInterval: time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// SyncProcessor drains the durable sync queue into the remote store. It is
// the reconciler behind both inline pushes and the background worker.
type SyncProcessor struct {
	storage *storage.SQLiteRepository
	remote  remote.Store
	events  *EventBus
	config  SyncProcessorConfig
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(
	storage *storage.SQLiteRepository,
	remoteStore remote.Store,
	events *EventBus,
	config SyncProcessorConfig,
) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = def.CleanupAge
	}
	return &SyncProcessor{
		storage: storage,
		remote:  remoteStore,
		events:  events,
		config:  config,
		now:     time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Items left in processing by a crash would otherwise never be retried.
	if n, err := p.storage.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "Reset stale processing items", "count", n)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.processBatch(ctx, p.stopCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx, p.stopCh)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// RunOnce processes one batch of due items synchronously and returns how
// many of them reached the remote store.
func (p *SyncProcessor) RunOnce(ctx context.Context) (int, error) {
	_, confirmed, err := p.runBatch(ctx)
	return confirmed, err
}

// Drain processes batches until none of the due items can be claimed and
// returns how many items reached the remote store. Failed items are
// rescheduled past now, so each pass makes progress.
func (p *SyncProcessor) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		claimed, confirmed, err := p.runBatch(ctx)
		total += confirmed
		if err != nil || claimed == 0 {
			return total, err
		}
	}
}

func (p *SyncProcessor) runBatch(ctx context.Context) (claimed, confirmed int, err error) {
	items, err := p.storage.DequeueSyncBatch(ctx, p.config.BatchSize, p.now())
	if err != nil {
		return 0, 0, fmt.Errorf("dequeue sync batch: %w", err)
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return claimed, confirmed, ctx.Err()
		}
		ok, err := p.process(ctx, item)
		if ok {
			claimed++
			if err == nil {
				confirmed++
			}
		}
	}
	return claimed, confirmed, nil
}

func (p *SyncProcessor) processBatch(ctx context.Context, stopCh <-chan struct{}) {
	items, err := p.storage.DequeueSyncBatch(ctx, p.config.BatchSize, p.now())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue sync batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	for _, item := range items {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := p.ProcessItem(ctx, item); err != nil {
			slog.DebugContext(ctx, "Sync item not confirmed", "queue_id", item.ID, "error", err)
		}
	}
}

// ProcessByID loads a queue item and processes it. Used by the AMQP worker.
func (p *SyncProcessor) ProcessByID(ctx context.Context, id int64) error {
	item, err := p.storage.GetSyncItem(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.InfoContext(ctx, "Sync item no longer exists, skipping", "queue_id", id)
			return nil
		}
		return fmt.Errorf("get sync item %d: %w", id, err)
	}
	return p.ProcessItem(ctx, item)
}

// ProcessItem claims the item and performs its remote operation. An item
// already claimed elsewhere, or no longer pending, is skipped without error.
// The returned error is the remote failure, already recorded on the item.
func (p *SyncProcessor) ProcessItem(ctx context.Context, item storage.SyncItem) error {
	_, err := p.process(ctx, item)
	return err
}

// process reports whether this call claimed the item.
func (p *SyncProcessor) process(ctx context.Context, item storage.SyncItem) (bool, error) {
	claimed, err := p.storage.ClaimSyncItem(ctx, item.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	// The caller's copy may predate earlier attempts.
	if fresh, err := p.storage.GetSyncItem(ctx, item.ID); err == nil {
		item = fresh
	}

	var processErr error
	switch item.Operation {
	case storage.OpUpsert:
		processErr = p.processUpsert(ctx, item)
	case storage.OpDelete:
		processErr = p.processDelete(ctx, item)
	default:
		processErr = fmt.Errorf("unknown operation: %s", item.Operation)
	}

	if processErr != nil {
		p.handleFailure(ctx, item, processErr)
		return true, processErr
	}
	p.handleSuccess(ctx, item)
	return true, nil
}

// processUpsert pushes the current local row. A row deleted locally, before
// the push or while it was in flight, is removed remotely instead so a late
// push cannot outlive the delete.
func (p *SyncProcessor) processUpsert(ctx context.Context, item storage.SyncItem) error {
	exists, err := p.pushLocal(ctx, item)
	if err != nil {
		return err
	}
	if exists {
		// The row may have been deleted while the push was in flight.
		if exists, err = p.localExists(ctx, item); err != nil {
			return err
		}
	}
	if !exists {
		if err := p.remote.Delete(ctx, item.UserID, item.Kind, item.EntityID); err != nil {
			return fmt.Errorf("delete %s deleted locally: %w", item.Kind, err)
		}
		slog.InfoContext(ctx, "Entity deleted locally, removed remote copy",
			"kind", item.Kind,
			"entity_id", item.EntityID,
			"queue_id", item.ID)
		return nil
	}

	slog.InfoContext(ctx, "Pushed entity to remote store",
		"kind", item.Kind,
		"entity_id", item.EntityID,
		"queue_id", item.ID)
	return nil
}

// pushLocal pushes the local row and reports whether it existed.
func (p *SyncProcessor) pushLocal(ctx context.Context, item storage.SyncItem) (bool, error) {
	switch item.Kind {
	case core.KindCategory:
		c, err := p.storage.GetCategory(ctx, item.EntityID)
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := p.remote.PushCategory(ctx, item.UserID, c); err != nil {
			return true, fmt.Errorf("push category: %w", err)
		}
	case core.KindTransaction:
		t, err := p.storage.GetTransaction(ctx, item.EntityID)
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := p.remote.PushTransaction(ctx, item.UserID, t); err != nil {
			return true, fmt.Errorf("push transaction: %w", err)
		}
	default:
		return false, fmt.Errorf("unknown entity kind: %s", item.Kind)
	}
	return true, nil
}

func (p *SyncProcessor) localExists(ctx context.Context, item storage.SyncItem) (bool, error) {
	var err error
	switch item.Kind {
	case core.KindCategory:
		_, err = p.storage.GetCategory(ctx, item.EntityID)
	case core.KindTransaction:
		_, err = p.storage.GetTransaction(ctx, item.EntityID)
	default:
		return false, fmt.Errorf("unknown entity kind: %s", item.Kind)
	}
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *SyncProcessor) processDelete(ctx context.Context, item storage.SyncItem) error {
	if err := p.remote.Delete(ctx, item.UserID, item.Kind, item.EntityID); err != nil {
		return fmt.Errorf("delete %s: %w", item.Kind, err)
	}
	slog.InfoContext(ctx, "Deleted entity from remote store",
		"kind", item.Kind,
		"entity_id", item.EntityID,
		"queue_id", item.ID)
	return nil
}

func (p *SyncProcessor) handleSuccess(ctx context.Context, item storage.SyncItem) {
	if err := p.storage.MarkSyncComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync complete", "queue_id", item.ID, "error", err)
	}

	// A newer edit may have queued another upsert while this one was in flight.
	if item.Operation == storage.OpUpsert {
		busy, err := p.storage.HasUnfinishedSync(ctx, item.Kind, item.EntityID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to check pending work", "entity_id", item.EntityID, "error", err)
		} else if !busy {
			if err := p.storage.SetEntitySyncState(ctx, item.Kind, item.EntityID, core.SyncSynced); err != nil {
				slog.WarnContext(ctx, "Failed to mark entity synced", "entity_id", item.EntityID, "error", err)
			}
		}
	}

	p.events.Publish(SyncEvent{
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Stage:     StageRemoteConfirmed,
		Attempt:   item.Attempts + 1,
	})
}

// handleFailure records the error on the item and either schedules a retry
// with exponential backoff or gives up.
func (p *SyncProcessor) handleFailure(ctx context.Context, item storage.SyncItem, processErr error) {
	attempt := item.Attempts + 1
	retry := core.IsRetryable(processErr) && attempt < p.config.MaxRetries

	slog.WarnContext(ctx, "Sync processing failed",
		"queue_id", item.ID,
		"kind", item.Kind,
		"entity_id", item.EntityID,
		"operation", item.Operation,
		"attempt", attempt,
		"will_retry", retry,
		"error", processErr)

	if retry {
		next := p.now().Add(p.backoff(attempt))
		if err := p.storage.IncrementSyncAttempt(ctx, item.ID, processErr.Error(), next); err != nil {
			slog.ErrorContext(ctx, "Failed to increment sync attempt", "queue_id", item.ID, "error", err)
		}
	} else {
		if err := p.storage.MarkSyncFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark sync as failed", "queue_id", item.ID, "error", err)
		}
		if item.Operation == storage.OpUpsert {
			if err := p.storage.SetEntitySyncState(ctx, item.Kind, item.EntityID, core.SyncFailed); err != nil {
				slog.ErrorContext(ctx, "Failed to mark entity sync failure", "entity_id", item.EntityID, "error", err)
			}
		}
		slog.ErrorContext(ctx, "Sync item failed permanently",
			"queue_id", item.ID,
			"entity_id", item.EntityID,
			"attempts", attempt)
	}

	p.events.Publish(SyncEvent{
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Stage:     StageRemoteFailed,
		Attempt:   attempt,
		WillRetry: retry,
		Err:       processErr,
	})
}

// backoff returns BaseBackoff doubled per previous attempt, capped at MaxBackoff.
func (p *SyncProcessor) backoff(attempt int) time.Duration {
	d := p.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.config.MaxBackoff {
			return p.config.MaxBackoff
		}
	}
	if d > p.config.MaxBackoff {
		return p.config.MaxBackoff
	}
	return d
}

func (p *SyncProcessor) cleanupCompleted(ctx context.Context) {
	cutoff := p.now().Add(-p.config.CleanupAge)
	n, err := p.storage.CleanupCompletedSyncs(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed syncs", "error", err)
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "Cleaned up completed sync items", "count", n)
	}
}

func (p *SyncProcessor) Stats(ctx context.Context) (storage.SyncQueueStats, error) {
	return p.storage.GetSyncQueueStats(ctx)
}

// RetryFailed re-arms every failed item and returns how many were reset.
func (p *SyncProcessor) RetryFailed(ctx context.Context) (int64, error) {
	return p.storage.RetryFailedSyncs(ctx)
}
