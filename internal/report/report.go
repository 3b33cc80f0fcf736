// Package report aggregates local transactions for summaries and export.
// Everything here is pure: callers pass in what they listed from the store.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/core"
)

// CategoryTotals sums transactions per category, sorted by name then id.
// Categories sharing a name stay separate. Uncategorized and dangling
// references share the "No Category" bucket.
func CategoryTotals(views []core.TransactionView) []core.CategoryTotal {
	byID := make(map[string]*core.CategoryTotal)
	for _, v := range views {
		var id string
		if v.Category != nil {
			id = v.Category.ID
		}
		ct, ok := byID[id]
		if !ok {
			ct = &core.CategoryTotal{CategoryID: id, Name: v.Label(), Total: decimal.Zero}
			byID[id] = ct
		}
		ct.Total = ct.Total.Add(v.Amount)
		ct.Count++
	}

	out := make([]core.CategoryTotal, 0, len(byID))
	for _, ct := range byID {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

// PeriodTotals returns the totals of the last n weeks or months up to and
// including the one containing now, oldest first. Empty periods are kept.
// Weeks start on Monday; all boundaries are in UTC.
func PeriodTotals(txs []core.Transaction, period core.Period, now time.Time, n int) ([]core.PeriodTotal, error) {
	if n <= 0 {
		return nil, fmt.Errorf("period count must be positive, got %d", n)
	}
	if period != core.PeriodWeek && period != core.PeriodMonth {
		return nil, fmt.Errorf("unknown period %q", period)
	}

	current := PeriodStart(now, period)
	out := make([]core.PeriodTotal, n)
	index := make(map[time.Time]int, n)
	for i := range out {
		start := shift(current, period, i-(n-1))
		out[i] = core.PeriodTotal{Start: start, Total: decimal.Zero}
		index[start] = i
	}

	for _, t := range txs {
		i, ok := index[PeriodStart(t.CreatedAt, period)]
		if !ok {
			continue
		}
		out[i].Total = out[i].Total.Add(t.Amount)
		out[i].Count++
	}
	return out, nil
}

// PeriodStart returns the first instant of the week or month containing t.
func PeriodStart(t time.Time, period core.Period) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if period == core.PeriodMonth {
		return day.AddDate(0, 0, 1-day.Day())
	}
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

func shift(start time.Time, period core.Period, k int) time.Time {
	if period == core.PeriodMonth {
		return start.AddDate(0, k, 0)
	}
	return start.AddDate(0, 0, 7*k)
}

// ByPopularity orders categories by how many transactions reference them,
// most used first. Ties keep the input order.
func ByPopularity(categories []core.Category, txs []core.Transaction) []core.Category {
	counts := make(map[string]int, len(categories))
	for _, t := range txs {
		if t.CategoryID != "" {
			counts[t.CategoryID]++
		}
	}

	out := append([]core.Category(nil), categories...)
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i].ID] > counts[out[j].ID]
	})
	return out
}

// Rows flattens views into export rows, keeping their order.
func Rows(views []core.TransactionView) []core.ExportRow {
	rows := make([]core.ExportRow, 0, len(views))
	for _, v := range views {
		rows = append(rows, core.ExportRow{
			Date:        v.CreatedAt,
			Description: v.Description,
			Amount:      v.Amount,
			Category:    v.Label(),
		})
	}
	return rows
}
