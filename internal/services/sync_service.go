package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"budgetsync/internal/cache"
	"budgetsync/internal/core"
	"budgetsync/internal/identity"
	"budgetsync/internal/remote"
	"budgetsync/internal/storage"
)

const (
	categoryCacheSize = 512
	categoryCacheTTL  = 10 * time.Minute
)

// SyncService is the single entry point for reads and writes. Writes land in
// the local store together with a durable queue item and return at once; the
// remote push happens asynchronously through the Dispatcher.
type SyncService struct {
	storage    *storage.SQLiteRepository
	remote     remote.Store
	identity   identity.Provider
	processor  *SyncProcessor
	dispatcher Dispatcher
	events     *EventBus

	categories *cache.LRUCache[core.Category]
	lookups    singleflight.Group
	now        func() time.Time
}

// NewSyncService wires the mediator. dispatcher and events may be nil: without
// a dispatcher, queued writes wait for the reconciler.
func NewSyncService(
	storage *storage.SQLiteRepository,
	remoteStore remote.Store,
	ident identity.Provider,
	processor *SyncProcessor,
	dispatcher Dispatcher,
	events *EventBus,
) *SyncService {
	return &SyncService{
		storage:    storage,
		remote:     remoteStore,
		identity:   ident,
		processor:  processor,
		dispatcher: dispatcher,
		events:     events,
		categories: cache.NewLRUCache[core.Category](categoryCacheSize, categoryCacheTTL),
		now:        time.Now,
	}
}

// CategoryCache exposes the remote lookup cache so a janitor can sweep it.
func (s *SyncService) CategoryCache() *cache.LRUCache[core.Category] {
	return s.categories
}

func (s *SyncService) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	c := core.Category{Name: strings.TrimSpace(name)}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}

	saved, item, err := s.storage.SaveCategoryForSync(ctx, user.UID, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	slog.InfoContext(ctx, "Category saved locally", "id", saved.ID, "name", saved.Name)
	s.accepted(ctx, item)
	return saved, nil
}

func (s *SyncService) RenameCategory(ctx context.Context, id, name string) (core.Category, error) {
	c := core.Category{ID: id, Name: strings.TrimSpace(name)}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return core.Category{}, fmt.Errorf("rename category: %w", err)
	}
	if _, err := s.storage.GetCategory(ctx, id); err != nil {
		return core.Category{}, fmt.Errorf("rename category: %w", err)
	}

	saved, item, err := s.storage.SaveCategoryForSync(ctx, user.UID, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("rename category: %w", err)
	}
	s.categories.Delete(cacheKey(user.UID, id))
	s.accepted(ctx, item)
	return saved, nil
}

// DeleteCategory removes the category locally first and queues the remote
// delete. Transactions keep their reference and read as uncategorized.
func (s *SyncService) DeleteCategory(ctx context.Context, id string) error {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	item, err := s.storage.DeleteCategoryForSync(ctx, user.UID, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.categories.Delete(cacheKey(user.UID, id))
	s.accepted(ctx, item)
	return nil
}

func (s *SyncService) CreateTransaction(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	t, err := in.Parse(s.now())
	if err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkCategory(ctx, t.CategoryID); err != nil {
		return core.Transaction{}, err
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	saved, item, err := s.storage.SaveTransactionForSync(ctx, user.UID, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction saved locally",
		"id", saved.ID,
		"amount", saved.Amount.String(),
		"category_id", saved.CategoryID)
	s.accepted(ctx, item)
	return saved, nil
}

// UpdateTransaction replaces the fields of an existing transaction. A zero
// CreatedAt keeps the stored one.
func (s *SyncService) UpdateTransaction(ctx context.Context, id string, in core.TransactionInput) (core.Transaction, error) {
	existing, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = existing.CreatedAt
	}
	t, err := in.Parse(s.now())
	if err != nil {
		return core.Transaction{}, err
	}
	if t.CategoryID != existing.CategoryID {
		if err := s.checkCategory(ctx, t.CategoryID); err != nil {
			return core.Transaction{}, err
		}
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	t.ID = id
	saved, item, err := s.storage.SaveTransactionForSync(ctx, user.UID, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.accepted(ctx, item)
	return saved, nil
}

func (s *SyncService) DeleteTransaction(ctx context.Context, id string) error {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	item, err := s.storage.DeleteTransactionForSync(ctx, user.UID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.accepted(ctx, item)
	return nil
}

// Categories lists local categories in insertion order.
func (s *SyncService) Categories(ctx context.Context) ([]core.Category, error) {
	return s.storage.ListCategories(ctx)
}

// Transactions lists local transactions newest first with their category
// resolved. Dangling references resolve to a nil category.
func (s *SyncService) Transactions(ctx context.Context) ([]core.TransactionView, error) {
	cats, err := s.storage.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.storage.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*core.Category, len(cats))
	for i := range cats {
		byID[cats[i].ID] = &cats[i]
	}
	views := make([]core.TransactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, core.TransactionView{Transaction: t, Category: byID[t.CategoryID]})
	}
	return views, nil
}

func (s *SyncService) SyncStatus(ctx context.Context) (storage.SyncQueueStats, error) {
	return s.storage.GetSyncQueueStats(ctx)
}

// Reconcile pushes every due queue item now and returns how many were confirmed.
func (s *SyncService) Reconcile(ctx context.Context) (int, error) {
	return s.processor.Drain(ctx)
}

// RetryFailed re-arms items that exhausted their retries.
func (s *SyncService) RetryFailed(ctx context.Context) (int64, error) {
	return s.processor.RetryFailed(ctx)
}

// Bootstrap seeds a first-time user: when the remote profile is missing it
// creates it and the default categories. It reports whether seeding happened.
func (s *SyncService) Bootstrap(ctx context.Context) (bool, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap: %w", err)
	}
	exists, err := s.remote.ProfileExists(ctx, user.UID)
	if err != nil {
		return false, fmt.Errorf("bootstrap: check profile: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := s.remote.CreateProfile(ctx, user.UID, core.Profile{Name: core.DefaultProfileName}); err != nil {
		return false, fmt.Errorf("bootstrap: create profile: %w", err)
	}

	var errs []error
	for _, name := range core.DefaultCategoryNames {
		if _, err := s.CreateCategory(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("seed %q: %w", name, err))
		}
	}
	slog.InfoContext(ctx, "Bootstrapped new user",
		"user_id", user.UID,
		"categories", len(core.DefaultCategoryNames)-len(errs))
	return true, errors.Join(errs...)
}

// SignOut wipes the local store and any cached remote lookups. Sessions that
// support it are signed out too.
func (s *SyncService) SignOut(ctx context.Context) error {
	if err := s.storage.Reset(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.categories.Purge()
	if so, ok := s.identity.(interface{ SignOut() }); ok {
		so.SignOut()
	}
	return nil
}

func (s *SyncService) checkCategory(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.storage.GetCategory(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return &core.ValidationError{Field: "category", Err: core.ErrNotFound}
		}
		return err
	}
	return nil
}

// accepted reports a committed local write and hands its queue item on.
func (s *SyncService) accepted(ctx context.Context, item storage.SyncItem) {
	s.events.Publish(SyncEvent{
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Stage:     StageLocalWritten,
	})
	s.events.Publish(SyncEvent{
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Stage:     StageRemotePending,
	})
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, item)
	}
}

func cacheKey(userID, categoryID string) string {
	return userID + "/" + categoryID
}
