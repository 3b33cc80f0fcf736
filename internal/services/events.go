package services

import (
	"sync"
	"time"

	"budgetsync/internal/core"
	"budgetsync/internal/storage"
)

// SyncStage is a step in the life of one write.
type SyncStage string

const (
	StageLocalWritten    SyncStage = "local_written"
	StageRemotePending   SyncStage = "remote_pending"
	StageRemoteConfirmed SyncStage = "remote_confirmed"
	StageRemoteFailed    SyncStage = "remote_failed"
)

// SyncEvent reports a state change of one entity. For StageRemoteFailed,
// WillRetry tells whether the reconciler will try again.
type SyncEvent struct {
	Kind      core.Kind
	EntityID  string
	Operation storage.Operation
	Stage     SyncStage
	Attempt   int
	WillRetry bool
	Err       error
	At        time.Time
}

// EventBus delivers events to subscribers from a single goroutine, in the
// order they were published. A nil *EventBus discards everything.
type EventBus struct {
	mu        sync.Mutex
	delivered *sync.Cond
	queue     []SyncEvent
	subs      map[int]func(SyncEvent)
	nextID    int
	published uint64
	sent      uint64
	wake      chan struct{}
	closed    bool
	done      chan struct{}
}

func NewEventBus() *EventBus {
	b := &EventBus{
		subs: make(map[int]func(SyncEvent)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.delivered = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Subscribe registers fn and returns a function that removes it.
func (b *EventBus) Subscribe(fn func(SyncEvent)) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) Publish(e SyncEvent) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.published++
	b.queue = append(b.queue, e)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	b.mu.Unlock()
}

// Flush blocks until every event published so far has been delivered.
func (b *EventBus) Flush() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	target := b.published
	for b.sent < target {
		b.delivered.Wait()
	}
}

// Close delivers what is queued and stops the delivery goroutine.
func (b *EventBus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.wake)
	b.mu.Unlock()

	<-b.done
}

func (b *EventBus) run() {
	defer close(b.done)
	for range b.wake {
		b.drain()
	}
	b.drain()
}

func (b *EventBus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]func(SyncEvent), 0, len(b.subs))
		for id := 0; id < b.nextID; id++ {
			if fn, ok := b.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
		b.mu.Unlock()

		for _, fn := range subs {
			fn(e)
		}

		b.mu.Lock()
		b.sent++
		b.delivered.Broadcast()
		b.mu.Unlock()
	}
}
