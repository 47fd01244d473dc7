package maaltijd

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when the requested document
// does not exist. Lookup failures of any other kind keep their own error.
var ErrNotFound = errors.New("not found")

// Provide access to the meals storage
type MealRepo interface {
	StoreMeal(ctx context.Context, m *Meal) error
	GetMeal(ctx context.Context, id string) (*Meal, error)
	Feed(ctx context.Context, q FeedQuery) ([]*Meal, error)
	CountOwnerSince(ctx context.Context, uid string, since time.Time) (int, error)
	DeleteMeal(ctx context.Context, id string) error
	TotalMeals(ctx context.Context) (int, error)
}

// Provide access to the approved-emails whitelist
type ListRepo interface {
	// QueryEmail runs an equality filter over the email field.
	QueryEmail(ctx context.Context, email string) (*WhitelistEntry, error)
	// GetEmailDoc fetches the document keyed directly by the address.
	GetEmailDoc(ctx context.Context, email string) (*WhitelistEntry, error)
	StoreEntry(ctx context.Context, e *WhitelistEntry) error
}
