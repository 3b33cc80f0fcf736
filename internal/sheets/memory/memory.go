package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"budgetsync/internal/core"
	ports "budgetsync/internal/sheets"
)

const defaultSheet = "Transactions"

// Store keeps exported sheets in memory, for offline runs and tests.
type Store struct {
	mu     sync.Mutex
	sheets map[string][]core.ExportRow
}

var _ ports.ExportReader = (*Store)(nil)

func New() *Store {
	return &Store{sheets: make(map[string][]core.ExportRow)}
}

// Export replaces the sheet and returns a synthetic range reference.
func (s *Store) Export(_ context.Context, sheet string, rows []core.ExportRow) (string, error) {
	sheet = sheetName(sheet)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sheet] = append([]core.ExportRow(nil), rows...)
	return fmt.Sprintf("mem:%s!A1:D%d", sheet, len(rows)+1), nil
}

func (s *Store) ReadRows(_ context.Context, sheet string) ([]core.ExportRow, error) {
	sheet = sheetName(sheet)
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q: %w", sheet, core.ErrNotFound)
	}
	return append([]core.ExportRow(nil), rows...), nil
}

func sheetName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return defaultSheet
}
