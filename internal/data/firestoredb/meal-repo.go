package firestoredb

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
)

// feedScanLimit caps how many documents a free-text search may scan.
// Firestore has no substring queries, so the search term is applied
// in memory over the newest documents.
const feedScanLimit = 200

// Holds the meals collection of the maaltijdplus application
type mealRepo struct {
	meals_collection string
	client           *firestore.Client
	default_limit    int
	elgr             *log.Logger
	ilgr             *log.Logger
}

func (r *mealRepo) StoreMeal(ctx context.Context, m *maaltijd.Meal) error {

	if m == nil || m.ID == "" {
		return fmt.Errorf("unable to save meal without an ID")
	}

	if _, err := r.client.Collection(r.meals_collection).Doc(m.ID).Create(ctx, m); err != nil {
		return fmt.Errorf("unable to save in meals repository. error: %v", err)
	}
	return nil
}

func (r *mealRepo) GetMeal(ctx context.Context, id string) (*maaltijd.Meal, error) {

	doc, err := r.client.Collection(r.meals_collection).Doc(id).Get(ctx)
	if err != nil {
		if doc != nil && !doc.Exists() {
			return nil, maaltijd.ErrNotFound
		}
		return nil, fmt.Errorf("unable to get meal from repository. error: %v", err)
	}

	var m maaltijd.Meal
	if err := doc.DataTo(&m); err != nil {
		return nil, fmt.Errorf("unable to fit meal format. error: %v", err)
	}

	return &m, nil
}

// Feed returns the meals matching the query. Sorting and ownership are
// resolved by the database, the free-text search is applied in memory
// over a bounded scan of the newest documents.
func (r *mealRepo) Feed(ctx context.Context, q maaltijd.FeedQuery) ([]*maaltijd.Meal, error) {

	limit := q.Limit
	if limit < 1 {
		limit = r.default_limit
	}
	if limit > feedScanLimit {
		limit = feedScanLimit
	}

	query := r.client.Collection(r.meals_collection).Query
	if q.OwnerUID != "" {
		query = query.Where("owner_uid", "==", q.OwnerUID)
	}

	dir := firestore.Desc
	if q.Ascending {
		dir = firestore.Asc
	}
	switch q.SortBy {
	case maaltijd.SortByTitle:
		query = query.OrderBy("title", dir)
	case maaltijd.SortByScore:
		query = query.OrderBy("health_score", dir)
	default:
		query = query.OrderBy("created_at", dir)
	}

	fetch := limit
	if q.Search != "" {
		fetch = feedScanLimit
	}

	iter := query.Limit(fetch).Documents(ctx)
	defer iter.Stop()

	var meals []*maaltijd.Meal
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read the meals feed. error: %v", err)
		}

		var m maaltijd.Meal
		if err := doc.DataTo(&m); err != nil {
			r.elgr.Printf("unable to fit meal format for doc %s: %v", doc.Ref.ID, err)
			continue
		}
		if !q.Matches(&m) {
			continue
		}
		meals = append(meals, &m)
		if len(meals) == limit {
			break
		}
	}

	if q.Search != "" {
		r.ilgr.Printf("%d meals retrieved from the DB with the search filter %q", len(meals), q.Search)
	}

	return meals, nil
}

// CountOwnerSince counts the meals the user stored after the given
// moment. Only document keys are fetched.
func (r *mealRepo) CountOwnerSince(ctx context.Context, uid string, since time.Time) (int, error) {

	iter := r.client.Collection(r.meals_collection).
		Where("owner_uid", "==", uid).
		Where("created_at", ">=", since).
		Select().Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("unable to count meals for owner %s. error: %v", uid, err)
		}
		count++
	}

	return count, nil
}

func (r *mealRepo) DeleteMeal(ctx context.Context, id string) error {

	if _, err := r.client.Collection(r.meals_collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("unable to delete meal %s from repository. error: %v", id, err)
	}
	return nil
}

func (r *mealRepo) TotalMeals(ctx context.Context) (int, error) {

	iter := r.client.Collection(r.meals_collection).Select().Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("unable to count the meals collection. error: %v", err)
		}
		count++
	}

	return count, nil
}

// NewMealRepository - creates the meals repository over firestore
func NewMealRepository(client *firestore.Client, dlv int, mcn string) (maaltijd.MealRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("unable to create meals repository without a firestore client")
	}
	return &mealRepo{
		meals_collection: mcn,
		client:           client,
		default_limit:    dlv,
		ilgr:             log.New(os.Stdout, "[meal-repo] ", log.LstdFlags),
		elgr:             log.New(os.Stderr, "[meal-repo] ", log.LstdFlags),
	}, nil
}
