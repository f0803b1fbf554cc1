package structuring

import (
	"fmt"
	"sort"
	"time"

	"github.com/Dicklesworthstone/accord/internal/bounds"
	"github.com/Dicklesworthstone/accord/internal/constraint"
)

type catFeasibility struct {
	conflicts []Conflict
	tags      []tagInfo
}

// bound is one extracted limit with the tag it came from.
type bound[T any] struct {
	val T
	src tagInfo
	ok  bool
}

func tightest[T any](infos []tagInfo, get func(bounds.Bounds) (T, bool), better func(a, b T) bool) bound[T] {
	var out bound[T]
	for _, info := range infos {
		v, ok := get(info.limits)
		if !ok {
			continue
		}
		if !out.ok || better(v, out.val) {
			out = bound[T]{val: v, src: info, ok: true}
		}
	}
	return out
}

func later(a, b bounds.Clock) bool   { return a > b }
func earlier(a, b bounds.Clock) bool { return a < b }

// checkFeasibility derives implied bounds across every tag and commitment
// and reports combinations that cannot all hold, whether or not anybody
// contradicts anybody else in words.
func checkFeasibility(infos []tagInfo, commits []commitment) map[constraint.Category]catFeasibility {
	out := make(map[constraint.Category]catFeasibility)
	if f := timeFeasibility(infos, commits); len(f.conflicts) > 0 {
		out[constraint.CategoryWhen] = f
	}
	if f := budgetFeasibility(infos, commits); len(f.conflicts) > 0 {
		out[constraint.CategoryBudget] = f
	}
	return out
}

func timeFeasibility(infos []tagInfo, commits []commitment) catFeasibility {
	var f catFeasibility
	involved := make(map[string]tagInfo)
	add := func(desc string, srcs ...tagInfo) {
		c := Conflict{Kind: ConflictFeasibility, Description: desc}
		for _, s := range srcs {
			k := tagKey(s.tag)
			c.Tags = append(c.Tags, k)
			involved[k] = s
		}
		f.conflicts = append(f.conflicts, c)
	}

	es := tightest(infos, bounds.Bounds.EarliestStart, later)
	ls := tightest(infos, bounds.Bounds.LatestStart, earlier)
	ee := tightest(infos, bounds.Bounds.EarliestEnd, later)
	le := tightest(infos, bounds.Bounds.LatestEnd, earlier)
	dur := tightest(infos, bounds.Bounds.Duration, func(a, b time.Duration) bool { return a > b })

	durText := ""
	for _, c := range commits {
		if d, ok := c.offer.Duration(); ok && (!dur.ok || d > dur.val) {
			dur = bound[time.Duration]{val: d, ok: true}
			durText = c.text
		}
	}
	if dur.ok && durText == "" {
		durText = dur.src.tag.Text
	}

	switch {
	case es.ok && le.ok && es.val >= le.val:
		add(fmt.Sprintf("nothing can start at or after %s and still end by %s", es.val, le.val), es.src, le.src)
	case es.ok && le.ok && dur.ok && es.val.Add(dur.val) > le.val:
		add(fmt.Sprintf("%q takes %s: starting no earlier than %s it ends at %s, after the %s deadline",
			durText, bounds.FormatDuration(dur.val), es.val, es.val.Add(dur.val), le.val), withSource(es.src, le.src, dur)...)
	}
	if es.ok && ls.ok && es.val > ls.val {
		add(fmt.Sprintf("must start by %s but cannot start before %s", ls.val, es.val), ls.src, es.src)
	}
	if ee.ok && le.ok && ee.val > le.val {
		add(fmt.Sprintf("must stay until %s but leave by %s", ee.val, le.val), ee.src, le.src)
	}

	for _, c := range commits {
		span, ok := c.offer.Span()
		if !ok {
			continue
		}
		if es.ok && span.Start < es.val {
			add(fmt.Sprintf("%q starts at %s, before the %s earliest start", c.text, span.Start, es.val), es.src)
		}
		if le.ok && span.End > le.val {
			add(fmt.Sprintf("%q runs until %s, past the %s deadline", c.text, span.End, le.val), le.src)
		}
	}

	for _, info := range involved {
		f.tags = append(f.tags, info)
	}
	sortInfos(f.tags)
	return f
}

func withSource(a, b tagInfo, dur bound[time.Duration]) []tagInfo {
	out := []tagInfo{a, b}
	if dur.ok && dur.src.tag.Text != "" {
		out = append(out, dur.src)
	}
	return out
}

func budgetFeasibility(infos []tagInfo, commits []commitment) catFeasibility {
	var f catFeasibility
	involved := make(map[string]tagInfo)
	note := func(srcs ...tagInfo) []string {
		var ids []string
		for _, s := range srcs {
			k := tagKey(s.tag)
			ids = append(ids, k)
			involved[k] = s
		}
		return ids
	}

	ceiling := tightest(infos, bounds.Bounds.Ceiling, func(a, b float64) bool { return a < b })
	floor := tightest(infos, bounds.Bounds.Floor, func(a, b float64) bool { return a > b })
	if !ceiling.ok {
		return f
	}
	if floor.ok && floor.val > ceiling.val {
		f.conflicts = append(f.conflicts, Conflict{
			Kind: ConflictFeasibility,
			Description: fmt.Sprintf("a minimum spend of %s exceeds the %s ceiling",
				bounds.FormatMoney(floor.val), bounds.FormatMoney(ceiling.val)),
			Tags: note(floor.src, ceiling.src),
		})
	}
	for _, info := range infos {
		if !info.tag.IsTopTier() {
			continue
		}
		for _, m := range info.costs {
			if m.Entry.Min > ceiling.val {
				f.conflicts = append(f.conflicts, Conflict{
					Kind: ConflictFeasibility,
					Description: fmt.Sprintf("%s typically costs %s, above the %s ceiling",
						m.Entry.Item, m.Entry.Range(), bounds.FormatMoney(ceiling.val)),
					Tags: note(info, ceiling.src),
				})
			}
		}
	}
	for _, c := range commits {
		for _, m := range c.costs {
			if m.Entry.Min > ceiling.val {
				f.conflicts = append(f.conflicts, Conflict{
					Kind: ConflictFeasibility,
					Description: fmt.Sprintf("%q: %s typically costs %s, above the %s ceiling",
						c.text, m.Entry.Item, m.Entry.Range(), bounds.FormatMoney(ceiling.val)),
					Tags: note(ceiling.src),
				})
			}
		}
		if lo, _, ok := c.offer.Offered(); ok && lo > ceiling.val {
			f.conflicts = append(f.conflicts, Conflict{
				Kind: ConflictFeasibility,
				Description: fmt.Sprintf("%q costs at least %s, above the %s ceiling",
					c.text, bounds.FormatMoney(lo), bounds.FormatMoney(ceiling.val)),
				Tags: note(ceiling.src),
			})
		}
	}
	for _, info := range involved {
		f.tags = append(f.tags, info)
	}
	sortInfos(f.tags)
	return f
}

func sortInfos(infos []tagInfo) {
	sort.Slice(infos, func(i, j int) bool { return tagKey(infos[i].tag) < tagKey(infos[j].tag) })
}
