package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period selects the bucket width for spending aggregates.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// CategoryTotal represents an amount aggregated by category. CategoryID is
// empty for the uncategorized bucket.
type CategoryTotal struct {
	CategoryID string
	Name       string
	Total      decimal.Decimal
	Count      int
}

// PeriodTotal is the spending of one week or month, starting at Start.
type PeriodTotal struct {
	Start time.Time
	Total decimal.Decimal
	Count int
}

// ExportRow is one flattened transaction line for spreadsheet export.
type ExportRow struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Category    string
}
