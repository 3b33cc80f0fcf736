package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetsync/internal/core"
)

func tx(id, amount, categoryID string, at time.Time) core.Transaction {
	return core.Transaction{
		ID:          id,
		Description: "item " + id,
		Amount:      decimal.RequireFromString(amount),
		CreatedAt:   at,
		CategoryID:  categoryID,
	}
}

func TestCategoryTotals(t *testing.T) {
	food := &core.Category{ID: "c1", Name: "Grocery"}
	gas := &core.Category{ID: "c2", Name: "Gas"}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	views := []core.TransactionView{
		{Transaction: tx("1", "10.50", "c1", at), Category: food},
		{Transaction: tx("2", "4.25", "c1", at), Category: food},
		{Transaction: tx("3", "40", "c2", at), Category: gas},
		{Transaction: tx("4", "3", "", at)},
		{Transaction: tx("5", "2", "deleted", at)},
	}

	got := CategoryTotals(views)
	require.Len(t, got, 3)

	assert.Equal(t, "Gas", got[0].Name)
	assert.Equal(t, "Grocery", got[1].Name)
	assert.True(t, got[1].Total.Equal(decimal.RequireFromString("14.75")))
	assert.Equal(t, 2, got[1].Count)
	assert.Equal(t, core.UncategorizedName, got[2].Name)
	assert.Empty(t, got[2].CategoryID)
	assert.True(t, got[2].Total.Equal(decimal.NewFromInt(5)))
}

func TestCategoryTotalsKeepsSameNamedCategoriesApart(t *testing.T) {
	home := &core.Category{ID: "c1", Name: "Gifts"}
	work := &core.Category{ID: "c2", Name: "Gifts"}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	got := CategoryTotals([]core.TransactionView{
		{Transaction: tx("1", "10", "c1", at), Category: home},
		{Transaction: tx("2", "20", "c2", at), Category: work},
		{Transaction: tx("3", "5", "c2", at), Category: work},
	})
	require.Len(t, got, 2)

	assert.Equal(t, "c1", got[0].CategoryID)
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "c2", got[1].CategoryID)
	assert.True(t, got[1].Total.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 2, got[1].Count)
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		period core.Period
		want   time.Time
	}{
		{"wednesday", time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC), core.PeriodWeek, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{"monday", time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), core.PeriodWeek, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2024, 5, 19, 23, 59, 0, 0, time.UTC), core.PeriodWeek, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{"week across year", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), core.PeriodWeek, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC), core.PeriodMonth, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, PeriodStart(tt.at, tt.period).Equal(tt.want), "got %v", PeriodStart(tt.at, tt.period))
		})
	}
}

func TestPeriodTotalsMonths(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	txs := []core.Transaction{
		tx("1", "5", "", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)),
		tx("2", "7", "", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)),
		tx("3", "11", "", time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)),
		tx("4", "99", "", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)), // outside window
	}

	got, err := PeriodTotals(txs, core.PeriodMonth, now, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, got[0].Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(11)))
	assert.Zero(t, got[1].Count, "February is empty but present")
	assert.True(t, got[1].Total.IsZero())
	assert.True(t, got[2].Total.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 2, got[2].Count)
}

func TestPeriodTotalsWeeks(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC) // Wednesday
	txs := []core.Transaction{
		tx("1", "1.10", "", time.Date(2024, 5, 12, 23, 0, 0, 0, time.UTC)), // Sunday, previous week
		tx("2", "2.20", "", time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)),  // Monday, this week
	}

	got, err := PeriodTotals(txs, core.PeriodWeek, now, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Start.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got[0].Total.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, got[1].Total.Equal(decimal.RequireFromString("2.2")))
}

func TestPeriodTotalsRejectsBadInput(t *testing.T) {
	_, err := PeriodTotals(nil, core.PeriodWeek, time.Now(), 0)
	assert.Error(t, err)
	_, err = PeriodTotals(nil, core.Period("year"), time.Now(), 1)
	assert.Error(t, err)
}

func TestByPopularity(t *testing.T) {
	cats := []core.Category{
		{ID: "a", Name: "Restaurant"},
		{ID: "b", Name: "Grocery"},
		{ID: "c", Name: "Gas"},
		{ID: "d", Name: "Clothes"},
	}
	at := time.Now()
	txs := []core.Transaction{
		tx("1", "1", "c", at),
		tx("2", "1", "c", at),
		tx("3", "1", "b", at),
		tx("4", "1", "d", at),
		tx("5", "1", "", at),
	}

	got := ByPopularity(cats, txs)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"c", "b", "d", "a"}, ids)
	assert.Equal(t, "a", cats[0].ID, "input is not reordered")
}

func TestRows(t *testing.T) {
	at := time.Date(2024, 7, 4, 9, 30, 0, 0, time.UTC)
	views := []core.TransactionView{
		{Transaction: tx("1", "12.30", "c1", at), Category: &core.Category{ID: "c1", Name: "Gas"}},
		{Transaction: tx("2", "1", "", at)},
	}

	rows := Rows(views)
	require.Len(t, rows, 2)
	assert.Equal(t, core.ExportRow{Date: at, Description: "item 1", Amount: views[0].Amount, Category: "Gas"}, rows[0])
	assert.Equal(t, core.UncategorizedName, rows[1].Category)
}
