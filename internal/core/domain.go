package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	KindCategory    Kind = "categories"
	KindTransaction Kind = "transactions"

	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"

	// UncategorizedName is shown for transactions without a resolvable category.
	UncategorizedName = "No Category"

	maxNameLength        = 100
	maxDescriptionLength = 200
)

type (
	// Kind names an entity collection, both locally and under users/{uid}/{kind}.
	Kind string

	// SyncState tracks whether the local copy of an entity reached the remote store.
	SyncState string

	Category struct {
		ID        string
		Name      string
		Sync      SyncState
		UpdatedAt time.Time
	}

	Transaction struct {
		ID          string
		Description string
		Amount      decimal.Decimal
		CreatedAt   time.Time
		CategoryID  string // empty when uncategorized
		Sync        SyncState
		UpdatedAt   time.Time
	}

	// TransactionView is a transaction with its category reference resolved.
	// Category is nil when the transaction is uncategorized or the reference dangles.
	TransactionView struct {
		Transaction
		Category *Category
	}

	// Profile is the per-user sentinel document gating first-run bootstrap.
	Profile struct {
		Name string
	}
)

// DefaultCategoryNames are seeded for a user on first run.
var DefaultCategoryNames = []string{"Restaurant", "Grocery", "Gas", "Clothes"}

// DefaultProfileName is written into a freshly created profile document.
const DefaultProfileName = "unname"

func (k Kind) String() string {
	return string(k)
}

func (k Kind) Valid() bool {
	return k == KindCategory || k == KindTransaction
}

// NewID returns a fresh entity identifier. The same id is used locally and remotely.
func NewID() string {
	return uuid.NewString()
}

// NormalizeTime truncates t to millisecond precision in UTC, the resolution
// both stores persist.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (c Category) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return &ValidationError{Field: "name", Err: ErrNameTooLong}
	}
	return nil
}

func (t Transaction) Validate() error {
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	return nil
}

// Label returns the category name to display for the view.
func (v TransactionView) Label() string {
	if v.Category == nil {
		return UncategorizedName
	}
	return v.Category.Name
}

// TransactionInput is the unvalidated form of a transaction as typed by a user.
type TransactionInput struct {
	Description string
	Amount      string
	CategoryID  string
	CreatedAt   time.Time // zero means now
}

// Parse validates the input and converts it into a Transaction without an id.
func (in TransactionInput) Parse(now time.Time) (Transaction, error) {
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Transaction{}, &ValidationError{Field: "amount", Err: err}
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	t := Transaction{
		Description: strings.TrimSpace(in.Description),
		Amount:      amount,
		CreatedAt:   NormalizeTime(createdAt),
		CategoryID:  strings.TrimSpace(in.CategoryID),
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// IsValidationError reports whether err was produced by input validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
