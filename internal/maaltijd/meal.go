package maaltijd

import (
	"strings"
	"time"
)

// Sort keys accepted by the feed query.
const (
	SortByDate  = "date"
	SortByTitle = "title"
	SortByScore = "score"
)

// Meal is a single logged meal as stored in the meals collection.
type Meal struct {
	ID           string    `json:"id" firestore:"id"`
	OwnerUID     string    `json:"owner_uid" firestore:"owner_uid"`
	OwnerName    string    `json:"owner_name" firestore:"owner_name"`
	Title        string    `json:"title" firestore:"title"`
	Description  string    `json:"description" firestore:"description"`
	Ingredients  []string  `json:"ingredients" firestore:"ingredients"`
	Recipe       []string  `json:"recipe" firestore:"recipe"`
	ShoppingList []string  `json:"shopping_list" firestore:"shopping_list"`
	HealthScore  int       `json:"health_score" firestore:"health_score"`
	PhotoPath    string    `json:"photo_path" firestore:"photo_path"`
	PhotoURL     string    `json:"photo_url" firestore:"photo_url"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
}

// Analysis holds the structured result extracted from a meal photo.
// The json tags follow the keys the vision model is instructed to emit.
type Analysis struct {
	IsFood       bool     `json:"isFood"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Ingredients  []string `json:"ingredients"`
	Recipe       []string `json:"recipe"`
	ShoppingList []string `json:"shoppingList"`
	HealthScore  int      `json:"healthScore"`
}

// FeedQuery narrows and orders the shared meals feed.
type FeedQuery struct {
	Search    string
	OwnerUID  string
	SortBy    string
	Ascending bool
	Limit     int
}

// Matches reports whether the meal satisfies the free-text search term.
// The term is matched case-insensitive against title, description and
// ingredients.
func (q FeedQuery) Matches(m *Meal) bool {
	if q.Search == "" {
		return true
	}
	term := strings.ToLower(q.Search)
	if strings.Contains(strings.ToLower(m.Title), term) {
		return true
	}
	if strings.Contains(strings.ToLower(m.Description), term) {
		return true
	}
	for _, ing := range m.Ingredients {
		if strings.Contains(strings.ToLower(ing), term) {
			return true
		}
	}
	return false
}
