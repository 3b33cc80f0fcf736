package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"budgetsync/internal/report"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"cat"},
		Short:   "Manage categories",
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())
	cmd.AddCommand(renameCategoryCmd())
	cmd.AddCommand(deleteCategoryCmd())

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	var popular bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local categories",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			categories, err := a.service.Categories(ctx)
			if err != nil {
				return fmt.Errorf("failed to list categories: %w", err)
			}
			if len(categories) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No categories found. Use 'budgetsync categories add' to create one.")
				return nil
			}

			if popular {
				txs, err := a.repo.ListTransactions(ctx)
				if err != nil {
					return fmt.Errorf("failed to list transactions: %w", err)
				}
				categories = report.ByPopularity(categories, txs)
			}

			table := newTable(cmd.OutOrStdout(), "ID", "Name", "Sync")
			for _, c := range categories {
				table.Append([]string{c.ID, c.Name, string(c.Sync)})
			}
			table.Render()
			return nil
		}),
	}

	cmd.Flags().BoolVar(&popular, "popular", false, "order by number of transactions")
	return cmd
}

func addCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			c, err := a.service.CreateCategory(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added category %q (%s)\n", c.Name, c.ID)
			return nil
		}),
	}
}

func renameCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			c, err := a.service.RenameCategory(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed category %s to %q\n", c.ID, c.Name)
			return nil
		}),
	}
}

func deleteCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a category",
		Long: `Delete a category locally and queue the remote delete.

Transactions that used the category keep their reference and are shown as
uncategorized.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.service.DeleteCategory(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted category %s\n", args[0])
			return nil
		}),
	}
}
