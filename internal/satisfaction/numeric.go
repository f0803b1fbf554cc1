package satisfaction

import (
	"fmt"

	"github.com/Dicklesworthstone/accord/internal/bounds"
)

// BoundCheck is the result of comparing explicit limits with an offer.
type BoundCheck struct {
	Violated bool
	Affirmed bool
	Evidence string
}

func violation(format string, args ...any) BoundCheck {
	return BoundCheck{Violated: true, Evidence: fmt.Sprintf(format, args...)}
}

func affirmation(format string, args ...any) BoundCheck {
	return BoundCheck{Affirmed: true, Evidence: fmt.Sprintf(format, args...)}
}

// CheckBounds compares the explicit limits in a constraint with the
// figures an offer commits to. Money is checked before time; the first
// violation wins. A nil pricer skips catalog prices.
func CheckBounds(constraintText, offerText string, pricer Pricer) BoundCheck {
	req := bounds.ExtractLimits(constraintText)
	if req.IsEmpty() {
		return BoundCheck{}
	}
	off := bounds.Extract(offerText)

	money := checkMoney(req, off, offerText, pricer)
	if money.Violated {
		return money
	}
	clock := checkTime(req, off)
	if clock.Violated {
		return clock
	}
	if money.Affirmed && (clock.Affirmed || !req.HasClock()) {
		return money
	}
	if clock.Affirmed && !req.HasMoney() {
		return clock
	}
	return BoundCheck{}
}

func checkMoney(req, off bounds.Bounds, offerText string, pricer Pricer) BoundCheck {
	ceiling, hasCeiling := req.Ceiling()
	floor, hasFloor := req.Floor()
	if !hasCeiling && !hasFloor {
		return BoundCheck{}
	}

	lo, hi, stated := off.Offered()
	if stated {
		if hasCeiling && hi > ceiling {
			return violation("states %s, above the %s limit", bounds.FormatMoney(hi), bounds.FormatMoney(ceiling))
		}
		if hasCeiling && off.OpenEnded() {
			return violation("states %s+ with no upper end, against the %s limit", bounds.FormatMoney(hi), bounds.FormatMoney(ceiling))
		}
		if hasFloor && lo < floor {
			return violation("states %s, below the %s minimum", bounds.FormatMoney(lo), bounds.FormatMoney(floor))
		}
		switch {
		case hasCeiling && hasFloor:
			return affirmation("states %s, within %s-%s", bounds.FormatMoney(hi), bounds.FormatMoney(floor), bounds.FormatMoney(ceiling))
		case hasCeiling:
			return affirmation("states %s, within the %s limit", bounds.FormatMoney(hi), bounds.FormatMoney(ceiling))
		default:
			return affirmation("states %s, meeting the %s minimum", bounds.FormatMoney(lo), bounds.FormatMoney(floor))
		}
	}

	if pricer == nil || !hasCeiling {
		return BoundCheck{}
	}
	for _, m := range pricer.Costs(offerText) {
		if m.Entry.Min > ceiling {
			return violation("includes %s, which typically costs %s, above the %s limit",
				m.Entry.Item, m.Entry.Range(), bounds.FormatMoney(ceiling))
		}
	}
	return BoundCheck{}
}

func checkTime(req, off bounds.Bounds) BoundCheck {
	es, hasES := req.EarliestStart()
	ls, hasLS := req.LatestStart()
	ee, hasEE := req.EarliestEnd()
	le, hasLE := req.LatestEnd()
	if !hasES && !hasLS && !hasEE && !hasLE {
		return BoundCheck{}
	}

	if span, ok := off.Span(); ok {
		switch {
		case hasES && span.Start < es:
			return violation("starts at %s, before %s", span.Start, es)
		case hasLS && span.Start > ls:
			return violation("starts at %s, after %s", span.Start, ls)
		case hasLE && span.End > le:
			return violation("runs until %s, past %s", span.End, le)
		case hasEE && span.End < ee:
			return violation("ends at %s, before %s", span.End, ee)
		}
		return affirmation("runs %s, within the stated times", span)
	}

	start, ok := offeredStart(off)
	if !ok {
		return BoundCheck{}
	}
	switch {
	case hasES && start < es:
		return violation("starts at %s, before %s", start, es)
	case hasLS && start > ls:
		return violation("starts at %s, after %s", start, ls)
	case hasLE && start >= le:
		return violation("starts at %s, no earlier than the %s deadline", start, le)
	}
	// A start time alone cannot confirm an end-of-day limit.
	if hasLE || hasEE {
		return BoundCheck{}
	}
	return affirmation("starts at %s", start)
}

func offeredStart(off bounds.Bounds) (bounds.Clock, bool) {
	for _, role := range []bounds.TimeRole{bounds.RoleAt, bounds.RoleEarliestStart, bounds.RoleLatestStart} {
		for _, t := range off.Times {
			if t.Role == role {
				return t.At, true
			}
		}
	}
	return 0, false
}
