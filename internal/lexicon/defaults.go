package lexicon

import (
	"sync"

	"github.com/Dicklesworthstone/accord/internal/constraint"
)

// DefaultConfig returns the built-in tables. Callers may modify the result.
func DefaultConfig() Config {
	return Config{
		Synonyms: []SynonymGroup{
			{Canonical: "vegetarian", Terms: []string{"veggie"}},
			{Canonical: "restaurant", Terms: []string{"eatery", "diner", "bistro"}},
			{Canonical: "cheap", Terms: []string{"inexpensive", "affordable", "budget friendly", "low cost"}},
			{Canonical: "outdoors", Terms: []string{"outdoor", "outside", "open air", "al fresco"}},
			{Canonical: "indoors", Terms: []string{"indoor", "inside"}},
			{Canonical: "kid friendly", Terms: []string{"family friendly", "child friendly", "kids welcome"}},
			{Canonical: "wheelchair accessible", Terms: []string{"accessible"}},
			{Canonical: "nut", Terms: []string{"nuts", "peanut", "peanuts", "tree nut", "tree nuts"}},
			{Canonical: "seafood", Terms: []string{"fish", "sushi", "shellfish", "shrimp", "prawn", "crab", "lobster", "oyster"}},
			{Canonical: "alcohol", Terms: []string{"booze", "beer", "wine", "cocktail", "brewery", "alcoholic drinks"}},
			{Canonical: "downtown", Terms: []string{"city center", "city centre"}},
			{Canonical: "hike", Terms: []string{"hiking", "trek", "trail walk"}},
			{Canonical: "ski", Terms: []string{"skiing", "ski trip", "ski resort", "snowboarding"}},
			{Canonical: "dinner", Terms: []string{"supper"}},
			{Canonical: "quiet", Terms: []string{"calm", "peaceful", "low key"}},
			{Canonical: "loud", Terms: []string{"noisy", "lively", "rowdy"}},
		},
		Dimensions: []Dimension{
			{
				Name:     "diet",
				Category: constraint.CategoryWhat,
				Values: []Value{
					{Name: "vegan", Implies: []string{"vegetarian"}},
					{Name: "vegetarian"},
					{Name: "pescatarian", Aliases: []string{"seafood"}},
					{Name: "omnivore", Aliases: []string{"steakhouse", "steak house", "bbq", "barbecue", "burger joint", "meat", "red meat", "bacon"}},
				},
			},
			{
				Name:     "setting",
				Category: constraint.CategoryWhere,
				Values:   []Value{{Name: "indoors"}, {Name: "outdoors"}},
			},
			{
				Name:     "atmosphere",
				Category: constraint.CategoryWhat,
				Values:   []Value{{Name: "quiet"}, {Name: "loud"}},
			},
			{
				Name:     "daypart",
				Category: constraint.CategoryWhen,
				Values: []Value{
					{Name: "morning", Aliases: []string{"brunch"}},
					{Name: "afternoon"},
					{Name: "evening", Aliases: []string{"night", "tonight"}},
				},
			},
			{
				Name:     "transport",
				Category: constraint.CategoryHow,
				Values: []Value{
					{Name: "driving", Aliases: []string{"car", "drive", "carpool"}},
					{Name: "transit", Aliases: []string{"public transport", "bus", "train", "subway", "metro"}},
					{Name: "walking", Aliases: []string{"walk", "walkable"}},
				},
			},
		},
		Costs: []CostEntry{
			{Item: "ski trip", Group: "activity", Keywords: []string{"ski"}, Min: 600},
			{Item: "weekend getaway", Group: "activity", Keywords: []string{"weekend getaway", "cabin", "resort"}, Min: 400, Max: 1200},
			{Item: "hot air balloon ride", Group: "activity", Keywords: []string{"hot air balloon"}, Min: 250, Max: 450},
			{Item: "spa day", Group: "activity", Keywords: []string{"spa"}, Min: 150, Max: 400},
			{Item: "concert", Group: "activity", Keywords: []string{"concert"}, Min: 80, Max: 250},
			{Item: "cooking class", Group: "activity", Keywords: []string{"cooking class"}, Min: 75, Max: 150},
			{Item: "escape room", Group: "activity", Keywords: []string{"escape room"}, Min: 30, Max: 50},
			{Item: "bowling", Group: "activity", Keywords: []string{"bowling"}, Min: 20, Max: 40},
			{Item: "museum visit", Group: "activity", Keywords: []string{"museum"}, Min: 15, Max: 30},
			{Item: "picnic", Group: "activity", Keywords: []string{"picnic"}, Min: 20, Max: 60},
			{Item: "day hike", Group: "activity", Keywords: []string{"hike"}, Min: 0, Max: 20},
			{Item: "fine dining", Group: "dining", Keywords: []string{"fine dining", "tasting menu", "michelin"}, Min: 150, Max: 300},
			{Item: "casual dining", Group: "dining", Keywords: []string{"cafe", "food truck", "pizza", "taco"}, Min: 15, Max: 35},
		},
		CategoryKeywords: map[constraint.Category][]string{
			constraint.CategoryWhen: {
				"time", "am", "pm", "noon", "midnight", "morning", "afternoon", "evening", "night",
				"weekend", "weekday", "monday", "tuesday", "wednesday", "thursday", "friday",
				"saturday", "sunday", "date", "day", "hour", "minute", "start", "leave", "arrive",
				"early", "late", "schedule", "o'clock", "finish", "end",
			},
			constraint.CategoryWhere: {
				"near", "nearby", "close", "distance", "location", "neighborhood", "downtown",
				"city", "venue", "place", "parking", "outdoors", "indoors", "beach", "park",
				"mile", "km", "commute", "away",
			},
			constraint.CategoryWhat: {
				"food", "eat", "dinner", "lunch", "breakfast", "restaurant", "cuisine", "menu",
				"dish", "activity", "hike", "ski", "movie", "game", "music", "concert",
				"museum", "bowling", "nut", "seafood", "alcohol", "gluten", "dairy", "allergy",
				"vegan", "vegetarian", "spicy", "coffee", "drink",
			},
			constraint.CategoryBudget: {
				"budget", "cost", "price", "cheap", "expensive", "spend", "dollar", "pay",
				"fee", "money", "ticket", "per person", "splurge", "$",
			},
			constraint.CategoryWho: {
				"people", "person", "group", "guest", "invite", "kid", "children", "family",
				"friend", "team", "attendee", "partner", "dog", "pet",
			},
			constraint.CategoryHow: {
				"transport", "carpool", "booking", "reservation", "book", "organize", "vote",
				"split", "wheelchair accessible", "ride", "ticketing", "rsvp", "plan",
			},
		},
		Neutral: []string{
			"restaurant", "place", "venue", "option", "food", "menu", "dish", "spot", "trip",
			"activity", "event", "thing", "stuff", "anything", "something", "area", "meal",
			"allowed", "involved", "available", "friendly",
		},
	}
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the shared lexicon compiled from DefaultConfig.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		l, err := New(DefaultConfig())
		if err != nil {
			panic("lexicon: invalid default tables: " + err.Error())
		}
		defaultLex = l
	})
	return defaultLex
}
