package google

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/core"
	ports "budgetsync/internal/sheets"
)

// Sheets counts serial dates in days from this epoch.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{ports.DateLayout, "2006/01/02", "02/01/2006", time.RFC3339}

// parseRows converts a values matrix into export rows. The first row must be
// the header; columns are located by name. It returns how many data rows
// were skipped because a cell did not parse.
func parseRows(values [][]any) ([]core.ExportRow, int, error) {
	if len(values) == 0 {
		return nil, 0, nil
	}
	headers := toStrings(values[0])
	cols := make([]int, len(ports.Header))
	var missing []string
	for i, name := range ports.Header {
		cols[i] = indexOf(headers, name)
		if cols[i] == -1 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("unexpected sheet header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	var (
		out     []core.ExportRow
		skipped int
	)
	for _, raw := range values[1:] {
		if isBlank(raw) {
			continue
		}
		date, ok := parseDate(safeGet(raw, cols[0]))
		if !ok {
			skipped++
			continue
		}
		amount, ok := parseAmount(safeGet(raw, cols[2]))
		if !ok {
			skipped++
			continue
		}
		out = append(out, core.ExportRow{
			Date:        date,
			Description: strings.TrimSpace(fmt.Sprint(safeGet(raw, cols[1]))),
			Amount:      amount,
			Category:    strings.TrimSpace(fmt.Sprint(safeGet(raw, cols[3]))),
		})
	}
	return out, skipped, nil
}

func parseDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case float64:
		return serialEpoch.AddDate(0, 0, int(x)), true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// parseAmount accepts numbers as returned unformatted and the decimal text
// users type, with either separator.
func parseAmount(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		d, err := core.ParseAmount(x)
		return d, err == nil
	}
	return decimal.Zero, false
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []any, idx int) any {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func isBlank(row []any) bool {
	for _, v := range row {
		if strings.TrimSpace(fmt.Sprint(v)) != "" {
			return false
		}
	}
	return true
}
