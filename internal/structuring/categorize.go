package structuring

import (
	"fmt"

	"github.com/Dicklesworthstone/accord/internal/bounds"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
)

// tieOrder breaks equal category scores.
var tieOrder = []constraint.Category{
	constraint.CategoryBudget,
	constraint.CategoryWhen,
	constraint.CategoryWhat,
	constraint.CategoryWhere,
	constraint.CategoryWho,
	constraint.CategoryHow,
}

// Categorize assigns a tag to exactly one category. An explicit category on
// the tag wins. Otherwise keyword and bound evidence is scored; the warning
// is non-empty when the choice was a tie or a fallback.
func Categorize(tag constraint.Tag, lex *lexicon.Lexicon) (constraint.Category, string) {
	if tag.Category.IsValid() {
		return tag.Category, ""
	}
	if lex == nil {
		lex = lexicon.Default()
	}
	scores := lex.CategoryScores(tag.Text)
	b := bounds.Extract(tag.Text)
	if b.HasMoney() {
		scores[constraint.CategoryBudget] += 2
	}
	if b.HasClock() {
		scores[constraint.CategoryWhen] += 2
	}
	if len(b.Durations) > 0 {
		scores[constraint.CategoryWhen]++
	}
	if len(b.Headcounts) > 0 {
		scores[constraint.CategoryWho] += 2
	}

	best, top, ties := pick(scores)
	switch {
	case top == 0:
		return constraint.CategoryWhat, fmt.Sprintf("no category evidence for %q; filed under what", tag.Text)
	case ties > 1:
		return best, fmt.Sprintf("ambiguous category for %q; filed under %s", tag.Text, best)
	}
	return best, ""
}

func pick(scores map[constraint.Category]int) (best constraint.Category, top, ties int) {
	for _, cat := range tieOrder {
		s := scores[cat]
		switch {
		case s > top:
			best, top, ties = cat, s, 1
		case s == top && s > 0:
			ties++
		}
	}
	return best, top, ties
}

// commitment is a plan element already on the table.
type commitment struct {
	text  string
	cat   constraint.Category
	offer bounds.Bounds
	costs []lexicon.CostMatch
}

func analyzeCommitments(texts []string, lex *lexicon.Lexicon) []commitment {
	out := make([]commitment, 0, len(texts))
	for _, text := range texts {
		cat, top, _ := pick(lex.CategoryScores(text))
		if top == 0 {
			cat = constraint.CategoryWhat
		}
		out = append(out, commitment{
			text:  text,
			cat:   cat,
			offer: bounds.Extract(text),
			costs: lex.Costs(text),
		})
	}
	return out
}
