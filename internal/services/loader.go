package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"budgetsync/internal/core"
	"budgetsync/internal/remote"
)

const maxConcurrentLookups = 4

// LoadReport summarizes one Load.
type LoadReport struct {
	Categories   int // applied from the remote store
	Transactions int
	Skipped      int  // left alone because of unconfirmed local changes
	Pruned       int  // synced local rows no longer present remotely
	PruneSkipped bool // the remote store is not durable, so nothing was pruned
	Resolved     int  // categories fetched individually for dangling references
	Unresolved   int  // references that stayed dangling
	Failures     []*core.DecodeError
}

// Load pulls both collections and materializes them locally, keeping remote
// ids. Entities with unconfirmed local changes are never overwritten.
func (s *SyncService) Load(ctx context.Context) (LoadReport, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("load: %w", err)
	}

	// Only rows already synced before the pull may be pruned; anything
	// confirmed while the pull runs is missing from its snapshot.
	prune := remote.IsDurable(s.remote)
	var candCats, candTxs map[string]struct{}
	if prune {
		if candCats, err = s.storage.SyncedIDs(ctx, core.KindCategory); err != nil {
			return LoadReport{}, fmt.Errorf("load: %w", err)
		}
		if candTxs, err = s.storage.SyncedIDs(ctx, core.KindTransaction); err != nil {
			return LoadReport{}, fmt.Errorf("load: %w", err)
		}
	}

	var (
		cats remote.Pull[core.Category]
		txs  remote.Pull[core.Transaction]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cats, err = s.remote.PullCategories(gctx, user.UID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.remote.PullTransactions(gctx, user.UID)
		return err
	})
	if err := g.Wait(); err != nil {
		return LoadReport{}, fmt.Errorf("load: pull: %w", err)
	}

	var report LoadReport
	report.Failures = append(append(report.Failures, cats.Failures...), txs.Failures...)
	for _, f := range report.Failures {
		slog.WarnContext(ctx, "Skipping malformed remote document",
			"kind", f.Kind, "document_id", f.DocumentID, "error", f.Err)
	}

	keepCats := make(map[string]struct{}, len(cats.Items))
	for _, c := range cats.Items {
		keepCats[c.ID] = struct{}{}
		s.categories.Set(cacheKey(user.UID, c.ID), c)
		applied, err := s.storage.ApplyRemoteCategory(ctx, c)
		if err != nil {
			return report, fmt.Errorf("load: apply category %s: %w", c.ID, err)
		}
		if applied {
			report.Categories++
		} else {
			report.Skipped++
		}
	}

	keepTxs := make(map[string]struct{}, len(txs.Items))
	for _, t := range txs.Items {
		keepTxs[t.ID] = struct{}{}
		applied, err := s.storage.ApplyRemoteTransaction(ctx, t)
		if err != nil {
			return report, fmt.Errorf("load: apply transaction %s: %w", t.ID, err)
		}
		if applied {
			report.Transactions++
		} else {
			report.Skipped++
		}
	}

	resolved, unresolved, err := s.resolveDangling(ctx, user.UID, txs.Items, keepCats)
	if err != nil {
		return report, err
	}
	report.Resolved, report.Unresolved = len(resolved), unresolved
	for _, c := range resolved {
		keepCats[c.ID] = struct{}{}
	}

	if prune {
		if report.Pruned, err = s.storage.PruneSynced(ctx, core.KindCategory, candCats, keepCats); err != nil {
			return report, fmt.Errorf("load: prune categories: %w", err)
		}
		n, err := s.storage.PruneSynced(ctx, core.KindTransaction, candTxs, keepTxs)
		if err != nil {
			return report, fmt.Errorf("load: prune transactions: %w", err)
		}
		report.Pruned += n
	} else {
		report.PruneSkipped = true
		slog.DebugContext(ctx, "Remote store is not durable, keeping local rows it does not list")
	}

	slog.InfoContext(ctx, "Loaded remote data",
		"user_id", user.UID,
		"categories", report.Categories,
		"transactions", report.Transactions,
		"skipped", report.Skipped,
		"pruned", report.Pruned,
		"resolved", report.Resolved,
		"decode_failures", len(report.Failures))
	return report, nil
}

// resolveDangling fetches categories referenced by pulled transactions that
// are neither in the pulled set nor stored locally. Lookup failures leave the
// reference dangling.
func (s *SyncService) resolveDangling(ctx context.Context, userID string, txs []core.Transaction, known map[string]struct{}) ([]core.Category, int, error) {
	missing := make(map[string]struct{})
	for _, t := range txs {
		if t.CategoryID == "" {
			continue
		}
		if _, ok := known[t.CategoryID]; ok {
			continue
		}
		if _, ok := missing[t.CategoryID]; ok {
			continue
		}
		_, err := s.storage.GetCategory(ctx, t.CategoryID)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, 0, fmt.Errorf("load: look up category %s: %w", t.CategoryID, err)
		}
		missing[t.CategoryID] = struct{}{}
	}
	if len(missing) == 0 {
		return nil, 0, nil
	}

	var (
		mu       sync.Mutex
		resolved []core.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for id := range missing {
		g.Go(func() error {
			c, err := s.resolveCategory(gctx, userID, id)
			if err != nil {
				slog.WarnContext(gctx, "Category reference left unresolved",
					"category_id", id, "error", err)
				return nil
			}
			mu.Lock()
			resolved = append(resolved, c)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, c := range resolved {
		if _, err := s.storage.ApplyRemoteCategory(ctx, c); err != nil {
			return nil, 0, fmt.Errorf("load: apply resolved category %s: %w", c.ID, err)
		}
	}
	return resolved, len(missing) - len(resolved), nil
}

// resolveCategory looks a category up remotely. Concurrent lookups of the
// same id share one call and successful results are cached.
func (s *SyncService) resolveCategory(ctx context.Context, userID, id string) (core.Category, error) {
	key := cacheKey(userID, id)
	if c, ok := s.categories.Get(key); ok {
		return c, nil
	}
	v, err, _ := s.lookups.Do(key, func() (any, error) {
		c, err := s.remote.FetchCategory(ctx, userID, id)
		if err != nil {
			return core.Category{}, err
		}
		s.categories.Set(key, c)
		return c, nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return v.(core.Category), nil
}
