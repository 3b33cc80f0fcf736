package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"budgetsync/internal/storage"
)

// Dispatcher hands a freshly enqueued item to whatever performs the remote
// write. Dispatch never blocks on the remote store; if the hand-off is lost
// the item stays pending and the reconciler picks it up.
type Dispatcher interface {
	Dispatch(ctx context.Context, item storage.SyncItem)
}

// InlineDispatcher pushes on a goroutine in this process.
type InlineDispatcher struct {
	processor *SyncProcessor
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewInlineDispatcher(processor *SyncProcessor, timeout time.Duration) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InlineDispatcher{processor: processor, timeout: timeout}
}

// Dispatch detaches from the caller's cancellation: the write has already
// been accepted locally and the push must outlive the request.
func (d *InlineDispatcher) Dispatch(ctx context.Context, item storage.SyncItem) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.processor.ProcessItem(pushCtx, item); err != nil {
			slog.WarnContext(pushCtx, "Inline push failed, left for reconciler",
				"queue_id", item.ID,
				"kind", item.Kind,
				"entity_id", item.EntityID,
				"error", err)
		}
	}()
}

// Wait blocks until every dispatched push has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
