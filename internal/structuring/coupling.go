package structuring

import (
	"fmt"
	"math"
	"sort"

	"github.com/Dicklesworthstone/accord/internal/bounds"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
)

type couplingSet struct {
	byKey map[string]*Coupling
	seen  map[string]map[string]bool
}

func newCouplingSet() *couplingSet {
	return &couplingSet{byKey: make(map[string]*Coupling), seen: make(map[string]map[string]bool)}
}

func (s *couplingSet) add(a, b constraint.Category, nature string, tagIDs ...string) {
	if a == b || a == "" || b == "" {
		return
	}
	cats := []constraint.Category{a, b}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	c := Coupling{Categories: cats}
	key := c.Key()
	existing, ok := s.byKey[key]
	if !ok {
		existing = &c
		s.byKey[key] = existing
		s.seen[key] = make(map[string]bool)
	}
	if !s.seen[key]["nature:"+nature] {
		s.seen[key]["nature:"+nature] = true
		if existing.Nature == "" {
			existing.Nature = nature
		} else {
			existing.Nature += "; " + nature
		}
	}
	for _, id := range tagIDs {
		if id != "" && !s.seen[key]["tag:"+id] {
			s.seen[key]["tag:"+id] = true
			existing.Tags = append(existing.Tags, id)
		}
	}
}

func (s *couplingSet) list() []Coupling {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Coupling, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.byKey[k])
	}
	return out
}

// findCouplings reports category pairs where a commitment in one provably
// narrows what the other can be. Couplings are recomputed from scratch on
// every pass.
func findCouplings(infos []tagInfo, commits []commitment) []Coupling {
	set := newCouplingSet()

	ceiling := tightest(infos, bounds.Bounds.Ceiling, func(a, b float64) bool { return a < b })
	if ceiling.ok {
		limit := bounds.FormatMoney(ceiling.val)
		budgetCat := constraint.CategoryBudget
		for _, info := range infos {
			for _, m := range info.costs {
				if nature, ok := costNature(m, ceiling.val, limit); ok {
					set.add(info.cat, budgetCat, nature, tagKey(info.tag), tagKey(ceiling.src.tag))
				}
			}
			if info.cat != constraint.CategoryBudget && info.limits.HasMoney() && tagKey(info.tag) != tagKey(ceiling.src.tag) {
				set.add(info.cat, budgetCat,
					fmt.Sprintf("%q sets a price point inside the %s budget", info.tag.Text, limit),
					tagKey(info.tag), tagKey(ceiling.src.tag))
			}
			if n, ok := info.limits.Headcount(); ok && n > 0 {
				set.add(info.cat, budgetCat,
					fmt.Sprintf("a group of %d shares the %s budget (about %s each)", n, limit, bounds.FormatMoney(math.Floor(ceiling.val/float64(n)))),
					tagKey(info.tag), tagKey(ceiling.src.tag))
			}
		}
		for _, c := range commits {
			for _, m := range c.costs {
				if nature, ok := costNature(m, ceiling.val, limit); ok {
					set.add(c.cat, budgetCat, nature, tagKey(ceiling.src.tag))
				}
			}
		}
	}

	es := tightest(infos, bounds.Bounds.EarliestStart, later)
	le := tightest(infos, bounds.Bounds.LatestEnd, earlier)
	if es.ok || le.ok {
		window := describeWindow(es, le)
		anchors := []string{}
		if es.ok {
			anchors = append(anchors, tagKey(es.src.tag))
		}
		if le.ok {
			anchors = append(anchors, tagKey(le.src.tag))
		}
		for _, info := range infos {
			if info.cat == constraint.CategoryWhen {
				continue
			}
			if d, ok := info.limits.Duration(); ok {
				set.add(info.cat, constraint.CategoryWhen,
					fmt.Sprintf("%q needs %s %s", info.tag.Text, bounds.FormatDuration(d), window),
					append([]string{tagKey(info.tag)}, anchors...)...)
			} else if info.limits.HasClock() {
				set.add(info.cat, constraint.CategoryWhen,
					fmt.Sprintf("%q fixes a time that must fall %s", info.tag.Text, window),
					append([]string{tagKey(info.tag)}, anchors...)...)
			}
		}
		for _, c := range commits {
			if d, ok := c.offer.Duration(); ok {
				set.add(c.cat, constraint.CategoryWhen,
					fmt.Sprintf("%q needs %s %s", c.text, bounds.FormatDuration(d), window), anchors...)
			}
		}
	}

	return set.list()
}

func costNature(m lexicon.CostMatch, ceiling float64, limit string) (string, bool) {
	switch {
	case m.Entry.Min > ceiling:
		return fmt.Sprintf("%s typically costs %s, which the %s ceiling rules out", m.Entry.Item, m.Entry.Range(), limit), true
	case m.Entry.Max == 0 || m.Entry.Max > ceiling:
		return fmt.Sprintf("%s costs %s, so the %s ceiling limits which options fit", m.Entry.Item, m.Entry.Range(), limit), true
	}
	return "", false
}

func describeWindow(es, le bound[bounds.Clock]) string {
	switch {
	case es.ok && le.ok:
		return "between " + es.val.String() + " and " + le.val.String()
	case es.ok:
		return "starting no earlier than " + es.val.String()
	default:
		return "ending by " + le.val.String()
	}
}
