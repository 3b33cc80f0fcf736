package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetsync/internal/core"
)

var (
	errMissingField = errors.New("missing field")
	errBadField     = errors.New("malformed field")
)

// CategoryFields is the backend-neutral content of a category document.
type CategoryFields struct {
	ID   string
	Name string
}

// TransactionFields is the backend-neutral content of a transaction document.
// Amount is the decimal text of the stored number and CreatedAt is RFC 3339.
type TransactionFields struct {
	ID          string
	Description string
	Amount      string
	CreatedAt   string
	CategoryID  string
}

func CategoryFieldsFrom(c core.Category) CategoryFields {
	return CategoryFields{ID: c.ID, Name: c.Name}
}

func TransactionFieldsFrom(t core.Transaction) TransactionFields {
	return TransactionFields{
		ID:          t.ID,
		Description: t.Description,
		Amount:      t.Amount.String(),
		CreatedAt:   core.NormalizeTime(t.CreatedAt).Format(time.RFC3339Nano),
		CategoryID:  t.CategoryID,
	}
}

// Decode validates the fields of the document stored under docID.
func (f CategoryFields) Decode(docID string) (core.Category, error) {
	id := f.ID
	if id == "" {
		id = docID
	}
	if id == "" {
		return core.Category{}, decodeErr(core.KindCategory, docID, fmt.Errorf("id: %w", errMissingField))
	}
	c := core.Category{ID: id, Name: strings.TrimSpace(f.Name), Sync: core.SyncSynced}
	if err := c.Validate(); err != nil {
		return core.Category{}, decodeErr(core.KindCategory, id, err)
	}
	return c, nil
}

// Decode validates the fields of the document stored under docID.
func (f TransactionFields) Decode(docID string) (core.Transaction, error) {
	id := f.ID
	if id == "" {
		id = docID
	}
	if id == "" {
		return core.Transaction{}, decodeErr(core.KindTransaction, docID, fmt.Errorf("id: %w", errMissingField))
	}
	if strings.TrimSpace(f.Amount) == "" {
		return core.Transaction{}, decodeErr(core.KindTransaction, id, fmt.Errorf("amount: %w", errMissingField))
	}
	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return core.Transaction{}, decodeErr(core.KindTransaction, id, fmt.Errorf("amount %q: %w", f.Amount, errBadField))
	}
	if f.CreatedAt == "" {
		return core.Transaction{}, decodeErr(core.KindTransaction, id, fmt.Errorf("createdAt: %w", errMissingField))
	}
	createdAt, err := time.Parse(time.RFC3339Nano, f.CreatedAt)
	if err != nil {
		return core.Transaction{}, decodeErr(core.KindTransaction, id, fmt.Errorf("createdAt %q: %w", f.CreatedAt, errBadField))
	}

	t := core.Transaction{
		ID:          id,
		Description: strings.TrimSpace(f.Description),
		Amount:      amount,
		CreatedAt:   core.NormalizeTime(createdAt),
		CategoryID:  f.CategoryID,
		Sync:        core.SyncSynced,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, decodeErr(core.KindTransaction, id, err)
	}
	return t, nil
}

func decodeErr(kind core.Kind, docID string, err error) *core.DecodeError {
	return &core.DecodeError{Kind: kind, DocumentID: docID, Err: err}
}
