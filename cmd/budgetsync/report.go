package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"budgetsync/internal/core"
	"budgetsync/internal/report"
	"budgetsync/internal/sheets"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Spending summaries and spreadsheet export",
	}

	cmd.AddCommand(summaryCmd())
	cmd.AddCommand(exportCmd())

	return cmd
}

func summaryCmd() *cobra.Command {
	var (
		period  string
		periods int
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Totals per category and per week or month",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			views, err := a.service.Transactions(ctx)
			if err != nil {
				return err
			}
			txs := make([]core.Transaction, len(views))
			for i, v := range views {
				txs[i] = v.Transaction
			}
			byPeriod, err := report.PeriodTotals(txs, core.Period(period), time.Now(), periods)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cats := newTable(out, "Category", "Transactions", "Total")
			for _, ct := range report.CategoryTotals(views) {
				cats.Append([]string{ct.Name, strconv.Itoa(ct.Count), core.FormatAmount(ct.Total)})
			}
			cats.Render()

			fmt.Fprintln(out)
			pt := newTable(out, "Period starting", "Transactions", "Total")
			for _, p := range byPeriod {
				pt.Append([]string{p.Start.Format(sheets.DateLayout), strconv.Itoa(p.Count), core.FormatAmount(p.Total)})
			}
			pt.Render()
			return nil
		}),
	}

	cmd.Flags().StringVar(&period, "period", string(core.PeriodMonth), "bucket width (week or month)")
	cmd.Flags().IntVar(&periods, "periods", 6, "number of periods to show")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		sheet  string
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all transactions to a spreadsheet",
		Long: `Write all transactions to a spreadsheet, replacing what the sheet held.

Google Sheets is used when a spreadsheet id is configured; otherwise the rows
are exported to an in-memory sheet, which is only useful with --verify.`,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			views, err := a.service.Transactions(ctx)
			if err != nil {
				return err
			}
			exporter, err := a.exporter(ctx)
			if err != nil {
				return err
			}

			rows := report.Rows(views)
			ref, err := exporter.Export(ctx, sheet, rows)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", len(rows), ref)

			if !verify {
				return nil
			}
			back, err := exporter.ReadRows(ctx, sheet)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if len(back) != len(rows) {
				return fmt.Errorf("verify: wrote %d rows but read back %d", len(rows), len(back))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verified %d rows\n", len(back))
			return nil
		}),
	}

	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet (tab) name (default: configured sheet)")
	cmd.Flags().BoolVar(&verify, "verify", false, "read the sheet back and compare row counts")
	return cmd
}
