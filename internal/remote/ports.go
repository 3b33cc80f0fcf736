package remote

import (
	"context"

	"budgetsync/internal/core"
)

// Ports for the per-user remote document store.
type (
	// Store mirrors categories and transactions under users/{userID}/{kind}/{id}.
	// Every push is an idempotent upsert keyed by entity id.
	Store interface {
		PushCategory(ctx context.Context, userID string, c core.Category) error
		PushTransaction(ctx context.Context, userID string, t core.Transaction) error

		// PullCategories and PullTransactions decode every document independently.
		// Malformed documents are reported in Pull.Failures and never abort the pull.
		PullCategories(ctx context.Context, userID string) (Pull[core.Category], error)
		PullTransactions(ctx context.Context, userID string) (Pull[core.Transaction], error)

		// FetchCategory returns core.ErrNotFound when the document is absent.
		FetchCategory(ctx context.Context, userID, id string) (core.Category, error)

		// Delete removes one document. Deleting an absent document succeeds.
		Delete(ctx context.Context, userID string, kind core.Kind, id string) error

		ProfileExists(ctx context.Context, userID string) (bool, error)
		CreateProfile(ctx context.Context, userID string, p core.Profile) error
	}

	// Durable is implemented by stores that can tell whether their documents
	// outlive the process. Only a durable store is authoritative enough for a
	// pull to delete local rows it no longer lists.
	Durable interface {
		Durable() bool
	}

	// Pull is a partial-success result of reading one collection.
	Pull[T any] struct {
		Items    []T
		Failures []*core.DecodeError
	}
)

// CollectionPath is the document collection for kind under a user.
func CollectionPath(userID string, kind core.Kind) string {
	return "users/" + userID + "/" + kind.String()
}

// ProfilePath is the collection holding the user's profile document.
func ProfilePath(userID string) string {
	return "users/" + userID + "/profile"
}

// ProfileDocID is the fixed id of the profile document.
const ProfileDocID = "profile"

// IsDurable reports whether s declares its documents outlive the process.
func IsDurable(s Store) bool {
	d, ok := s.(Durable)
	return ok && d.Durable()
}
