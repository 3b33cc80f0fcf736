package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"budgetsync/internal/core"
	"budgetsync/internal/sheets"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "Manage transactions",
	}

	cmd.AddCommand(listTransactionsCmd())
	cmd.AddCommand(addTransactionCmd())
	cmd.AddCommand(updateTransactionCmd())
	cmd.AddCommand(deleteTransactionCmd())

	return cmd
}

func listTransactionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			views, err := a.service.Transactions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transactions found.")
				return nil
			}
			if limit > 0 && len(views) > limit {
				views = views[:limit]
			}

			table := newTable(cmd.OutOrStdout(), "ID", "Date", "Description", "Amount", "Category", "Sync")
			for _, v := range views {
				table.Append([]string{
					v.ID,
					v.CreatedAt.Local().Format(sheets.DateLayout),
					v.Description,
					core.FormatAmount(v.Amount),
					v.Label(),
					string(v.Sync),
				})
			}
			table.Render()
			return nil
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n transactions (0 for all)")
	return cmd
}

type transactionFlags struct {
	description string
	amount      string
	category    string
	date        string
}

func (f *transactionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "what the money was spent on")
	cmd.Flags().StringVarP(&f.amount, "amount", "a", "", "amount, e.g. 12.50")
	cmd.Flags().StringVarP(&f.category, "category", "c", "", "category id (empty for uncategorized)")
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD (default: now)")
}

func (f *transactionFlags) input() (core.TransactionInput, error) {
	in := core.TransactionInput{
		Description: f.description,
		Amount:      f.amount,
		CategoryID:  f.category,
	}
	if f.date != "" {
		d, err := time.ParseInLocation(sheets.DateLayout, strings.TrimSpace(f.date), time.Local)
		if err != nil {
			return core.TransactionInput{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", f.date)
		}
		in.CreatedAt = d
	}
	return in, nil
}

func addTransactionCmd() *cobra.Command {
	var flags transactionFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			t, err := a.service.CreateTransaction(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added transaction %s: %s %s\n", t.ID, t.Description, core.FormatAmount(t.Amount))
			return nil
		}),
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func updateTransactionCmd() *cobra.Command {
	var flags transactionFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a transaction",
		Long:  `Change fields of a transaction. Fields without a flag keep their current value.`,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			existing, err := a.repo.GetTransaction(ctx, args[0])
			if err != nil {
				return fmt.Errorf("transaction %s: %w", args[0], err)
			}
			if !cmd.Flags().Changed("description") {
				flags.description = existing.Description
			}
			if !cmd.Flags().Changed("amount") {
				flags.amount = existing.Amount.String()
			}
			if !cmd.Flags().Changed("category") {
				flags.category = existing.CategoryID
			}

			in, err := flags.input()
			if err != nil {
				return err
			}
			t, err := a.service.UpdateTransaction(ctx, args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated transaction %s\n", t.ID)
			return nil
		}),
	}

	flags.register(cmd)
	return cmd
}

func deleteTransactionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.service.DeleteTransaction(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted transaction %s\n", args[0])
			return nil
		}),
	}
}
