package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCategoryValidate(t *testing.T) {
	if err := (Category{Name: "Grocery"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []struct {
		c    Category
		want error
	}{
		{Category{Name: ""}, ErrEmptyName},
		{Category{Name: "   "}, ErrEmptyName},
		{Category{Name: strings.Repeat("x", 101)}, ErrNameTooLong},
	}
	for i, tc := range bads {
		err := tc.c.Validate()
		if !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
		if !IsValidationError(err) {
			t.Fatalf("case %d expected a ValidationError", i)
		}
	}
}

func TestLengthLimitsCountCharacters(t *testing.T) {
	// Two bytes per rune: within the limit in characters, over it in bytes.
	name := strings.Repeat("é", 100)
	if err := (Category{Name: name}).Validate(); err != nil {
		t.Fatalf("100 characters should be accepted, got %v", err)
	}
	desc := strings.Repeat("ü", 200)
	if err := (Transaction{Description: desc}).Validate(); err != nil {
		t.Fatalf("200 characters should be accepted, got %v", err)
	}
	if err := (Transaction{Description: desc + "ü"}).Validate(); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("201 characters should be rejected, got %v", err)
	}
}

func TestTransactionInputParse(t *testing.T) {
	now := time.Date(2024, 6, 2, 10, 30, 0, 123456789, time.UTC)

	got, err := TransactionInput{Description: " Coffee ", Amount: "4,50", CategoryID: "c1"}.Parse(now)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if got.Description != "Coffee" || got.CategoryID != "c1" {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if got.Amount.String() != "4.5" {
		t.Fatalf("amount: got %s", got.Amount)
	}
	if !got.CreatedAt.Equal(now.Truncate(time.Millisecond)) {
		t.Fatalf("createdAt should default to now, got %v", got.CreatedAt)
	}

	explicit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = TransactionInput{Description: "Rent", Amount: "1200", CreatedAt: explicit}.Parse(now)
	if err != nil || !got.CreatedAt.Equal(explicit) || got.CategoryID != "" {
		t.Fatalf("unexpected: %+v err=%v", got, err)
	}

	bads := []struct {
		in    TransactionInput
		field string
	}{
		{TransactionInput{Description: "", Amount: "1"}, "description"},
		{TransactionInput{Description: "x", Amount: "abc"}, "amount"},
		{TransactionInput{Description: "x", Amount: ""}, "amount"},
		{TransactionInput{Description: strings.Repeat("d", 201), Amount: "1"}, "description"},
	}
	for i, tc := range bads {
		_, err := tc.in.Parse(now)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("case %d expected validation error on %s, got %v", i, tc.field, err)
		}
	}
}

func TestTransactionViewLabel(t *testing.T) {
	v := TransactionView{}
	if v.Label() != UncategorizedName {
		t.Fatalf("got %q", v.Label())
	}
	v.Category = &Category{Name: "Gas"}
	if v.Label() != "Gas" {
		t.Fatalf("got %q", v.Label())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&ValidationError{Field: "name", Err: ErrEmptyName}, false},
		{&DecodeError{Kind: KindCategory, Err: errors.New("bad")}, false},
		{NewNetworkError("push", errors.New("connection reset")), true},
		{NewAuthError("push", errors.New("expired token")), true},
		{&PersistenceError{Op: "save", Err: errors.New("disk full")}, true},
		{errors.New("boom"), false},
	}
	for i, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("case %d: IsRetryable(%v) = %v, want %v", i, tc.err, got, tc.want)
		}
	}
}
