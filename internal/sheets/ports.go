package sheets

import (
	"context"

	"budgetsync/internal/core"
)

// Ports for spreadsheet export adapters.
type (
	// Exporter replaces the contents of a sheet with rows, preceded by a
	// header line. It returns the written range.
	Exporter interface {
		Export(ctx context.Context, sheet string, rows []core.ExportRow) (rangeRef string, err error)
	}

	// Reader reads back rows previously written by an Exporter.
	Reader interface {
		ReadRows(ctx context.Context, sheet string) ([]core.ExportRow, error)
	}

	ExportReader interface {
		Exporter
		Reader
	}
)

// Header is the first line of every exported sheet.
var Header = []string{"Date", "Description", "Amount", "Category"}

// DateLayout is how export dates are written.
const DateLayout = "2006-01-02"
