package firestoredb

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
)

// Holds one whitelist collection of approved email addresses. The
// gate composes several instances when a fallback collection is
// configured.
type listRepo struct {
	white_coll string
	client     *firestore.Client
}

// QueryEmail finds the entry through an equality filter over the
// email field. Collections that key their documents by something else
// than the address itself are still found this way.
func (w *listRepo) QueryEmail(ctx context.Context, email string) (*maaltijd.WhitelistEntry, error) {

	email = strings.ToLower(strings.TrimSpace(email))

	iter := w.client.Collection(w.white_coll).Where("email", "==", email).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, maaltijd.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query whitelist repository. error: %v", err)
	}

	var wle maaltijd.WhitelistEntry
	if err := doc.DataTo(&wle); err != nil {
		return nil, fmt.Errorf("unable to fit whitelist format. error: %v", err)
	}

	return &wle, nil
}

// GetEmailDoc fetches the document keyed directly by the address.
func (w *listRepo) GetEmailDoc(ctx context.Context, email string) (*maaltijd.WhitelistEntry, error) {

	email = strings.ToLower(strings.TrimSpace(email))

	doc, err := w.client.Collection(w.white_coll).Doc(email).Get(ctx)
	if err != nil {
		if doc != nil && !doc.Exists() {
			return nil, maaltijd.ErrNotFound
		}
		return nil, fmt.Errorf("unable to get whitelist entry from repository. error: %v", err)
	}

	var wle maaltijd.WhitelistEntry
	if err := doc.DataTo(&wle); err != nil {
		return nil, fmt.Errorf("unable to fit whitelist format. error: %v", err)
	}
	if wle.Email == "" {
		wle.Email = email
	}

	return &wle, nil
}

func (w *listRepo) StoreEntry(ctx context.Context, e *maaltijd.WhitelistEntry) error {

	if e == nil || strings.TrimSpace(e.Email) == "" {
		return fmt.Errorf("unable to save whitelist entry without an email")
	}
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))

	if _, err := w.client.Collection(w.white_coll).Doc(e.Email).Set(ctx, e); err != nil {
		return fmt.Errorf("unable to save in whitelist repository. error: %v", err)
	}
	return nil
}

// NewListRepository - creates a whitelist repository over the named
// collection
func NewListRepository(client *firestore.Client, wlcn string) (maaltijd.ListRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("unable to create whitelist repository without a firestore client")
	}
	return &listRepo{
		white_coll: wlcn,
		client:     client,
	}, nil
}
