package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the remote store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "Pull categories and transactions from the remote store",
		Long: `Pull both collections from the remote store and store them locally with their
remote ids. Entities with local changes that have not reached the remote store
yet are left untouched.`,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			r, err := a.service.Load(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d categories and %d transactions\n", r.Categories, r.Transactions)
			if r.Skipped > 0 {
				fmt.Fprintf(out, "Kept %d entities with unsynced local changes\n", r.Skipped)
			}
			if r.PruneSkipped {
				fmt.Fprintln(out, "Remote store is not durable; no local data was removed")
			} else if r.Pruned > 0 {
				fmt.Fprintf(out, "Removed %d entities no longer present remotely\n", r.Pruned)
			}
			if r.Unresolved > 0 {
				fmt.Fprintf(out, "%d category references could not be resolved\n", r.Unresolved)
			}
			for _, f := range r.Failures {
				fmt.Fprintf(out, "Skipped malformed %s document %s: %v\n", f.Kind, f.DocumentID, f.Err)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Push every due queue item now",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			total, err := a.processor.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %d queued changes\n", total)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show sync queue counts",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			stats, err := a.service.SyncStatus(ctx)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Status", "Items")
			table.Append([]string{"pending", strconv.FormatInt(stats.Pending, 10)})
			table.Append([]string{"processing", strconv.FormatInt(stats.Processing, 10)})
			table.Append([]string{"completed", strconv.FormatInt(stats.Completed, 10)})
			table.Append([]string{"failed", strconv.FormatInt(stats.Failed, 10)})
			table.Render()
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Re-arm queue items that exhausted their retries",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			n, err := a.service.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %d failed items\n", n)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Create the remote profile and default categories for a new user",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			seeded, err := a.service.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintln(cmd.OutOrStdout(), "Created profile and default categories")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Profile already exists, nothing to do")
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signout",
		Short: "Wipe the local store",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.service.SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Local data cleared")
			return nil
		}),
	})

	return cmd
}
