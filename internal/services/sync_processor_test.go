package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/storage"
)

const testUser = "user-1"

func newTestStorage(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// eventRecorder collects events delivered by an EventBus.
type eventRecorder struct {
	mu     sync.Mutex
	events []SyncEvent
}

func (r *eventRecorder) record(e SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) stages(entityID string) []SyncStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncStage
	for _, e := range r.events {
		if e.EntityID == entityID {
			out = append(out, e.Stage)
		}
	}
	return out
}

func (r *eventRecorder) last() SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.PollInterval != 10*time.Second {
		t.Errorf("expected PollInterval 10s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
	if config.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", config.MaxRetries)
	}
	if config.BaseBackoff != time.Second || config.MaxBackoff != 5*time.Minute {
		t.Errorf("unexpected backoff bounds %v..%v", config.BaseBackoff, config.MaxBackoff)
	}
	if config.CleanupAge != 24*time.Hour {
		t.Errorf("expected CleanupAge 24h, got %v", config.CleanupAge)
	}
}

func TestNewSyncProcessorFillsDefaults(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, nil, SyncProcessorConfig{BatchSize: 3})

	if processor.config.BatchSize != 3 {
		t.Errorf("explicit BatchSize overwritten: %d", processor.config.BatchSize)
	}
	if processor.config.MaxRetries != 5 || processor.config.PollInterval != 10*time.Second {
		t.Errorf("zero values not defaulted: %+v", processor.config)
	}
}

func TestSyncProcessor_StartTwice(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, nil, DefaultSyncProcessorConfig())

	processor.mu.Lock()
	processor.running = true
	processor.mu.Unlock()

	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, nil, DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop on non-running processor should return nil, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, nil, DefaultSyncProcessorConfig())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{9, 256 * time.Second},
		{10, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := processor.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProcessItemPushesAndMarksSynced(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	processor := NewSyncProcessor(repo, remoteStore, nil, DefaultSyncProcessorConfig())

	cat, item, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: "Gas"})
	require.NoError(t, err)

	require.NoError(t, processor.ProcessItem(ctx, item))

	assert.True(t, remoteStore.Has(testUser, core.KindCategory, cat.ID))
	got, err := repo.GetCategory(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SyncSynced, got.Sync)

	stored, err := repo.GetSyncItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.QueueCompleted, stored.Status)
}

func TestProcessItemFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	remoteStore.Fail(errors.New("connection reset"))
	processor := NewSyncProcessor(repo, remoteStore, nil, DefaultSyncProcessorConfig())
	now := time.Now()
	processor.now = func() time.Time { return now }

	cat, item, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: "Gas"})
	require.NoError(t, err)

	err = processor.ProcessItem(ctx, item)
	var re *core.RemoteError
	require.True(t, errors.As(err, &re))

	stored, err := repo.GetSyncItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.QueuePending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, stored.LastError, "connection reset")
	assert.True(t, stored.NextAttemptAt.After(now))

	got, err := repo.GetCategory(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gas", got.Name)
	assert.Equal(t, core.SyncPending, got.Sync)

	// Not yet due.
	n, err := processor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	remoteStore.Fail(nil)
	now = now.Add(time.Minute)
	n, err = processor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, remoteStore.Has(testUser, core.KindCategory, cat.ID))
}

func TestProcessItemGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	remoteStore.Fail(errors.New("unreachable"))
	events := NewEventBus()
	defer events.Close()
	rec := &eventRecorder{}
	events.Subscribe(rec.record)

	config := DefaultSyncProcessorConfig()
	config.MaxRetries = 2
	processor := NewSyncProcessor(repo, remoteStore, events, config)

	cat, item, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: "Gas"})
	require.NoError(t, err)

	require.Error(t, processor.ProcessItem(ctx, item))
	require.Error(t, processor.ProcessItem(ctx, item))

	stored, err := repo.GetSyncItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.QueueFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	got, err := repo.GetCategory(ctx, cat.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailed, got.Sync)

	events.Flush()
	last := rec.last()
	assert.Equal(t, StageRemoteFailed, last.Stage)
	assert.False(t, last.WillRetry)
	assert.Equal(t, 2, last.Attempt)

	remoteStore.Fail(nil)
	reset, err := processor.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)
	n, err := processor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessDeleteOfAbsentDocumentSucceeds(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	processor := NewSyncProcessor(repo, remoteStore, nil, DefaultSyncProcessorConfig())

	cat, err := repo.SaveCategory(ctx, core.Category{Name: "Never pushed"})
	require.NoError(t, err)
	item, err := repo.DeleteCategoryForSync(ctx, testUser, cat.ID)
	require.NoError(t, err)

	require.NoError(t, processor.ProcessItem(ctx, item))
	assert.Equal(t, 1, remoteStore.Calls("delete"))
}

func TestProcessItemSkipsClaimedItem(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	processor := NewSyncProcessor(repo, remoteStore, nil, DefaultSyncProcessorConfig())

	_, item, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: "Gas"})
	require.NoError(t, err)
	ok, err := repo.ClaimSyncItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, processor.ProcessItem(ctx, item))
	assert.Zero(t, remoteStore.Calls("push category"))
}

func TestProcessByIDMissingItem(t *testing.T) {
	processor := NewSyncProcessor(newTestStorage(t), memory.New(), nil, DefaultSyncProcessorConfig())
	assert.NoError(t, processor.ProcessByID(context.Background(), 999))
}

func TestProcessorLoopDrainsQueue(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	remoteStore := memory.New()
	config := DefaultSyncProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor := NewSyncProcessor(repo, remoteStore, nil, config)

	for _, name := range []string{"A", "B", "C"} {
		_, _, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: name})
		require.NoError(t, err)
	}

	require.NoError(t, processor.Start(ctx))
	assert.Eventually(t, func() bool {
		return remoteStore.Count(testUser, core.KindCategory) == 3
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, processor.Stop(stopCtx))
	assert.False(t, processor.IsRunning())
}

// pickyStore rejects pushes of selected categories.
type pickyStore struct {
	*memory.Store
	reject map[string]struct{}
}

func (s *pickyStore) PushCategory(ctx context.Context, userID string, c core.Category) error {
	if _, ok := s.reject[c.ID]; ok {
		return &core.RemoteError{Op: "push category", Class: core.RemoteNetwork, Err: errors.New("rejected")}
	}
	return s.Store.PushCategory(ctx, userID, c)
}

func TestDrainContinuesPastFailedBatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t)
	store := memory.New()
	config := DefaultSyncProcessorConfig()
	config.BatchSize = 1

	first, _, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: "A"})
	require.NoError(t, err)
	for _, name := range []string{"B", "C"} {
		_, _, err := repo.SaveCategoryForSync(ctx, testUser, core.Category{Name: name})
		require.NoError(t, err)
	}
	picky := &pickyStore{Store: store, reject: map[string]struct{}{first.ID: {}}}
	processor := NewSyncProcessor(repo, picky, nil, config)

	n, err := processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Count(testUser, core.KindCategory))
	assert.False(t, store.Has(testUser, core.KindCategory, first.ID))

	stats, err := repo.GetSyncQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}
