package layout

import "github.com/mattn/go-runewidth"

// Width tiers decide how much of the live view fits beside the round list.
const (
	SplitViewThreshold = 90
	WideViewThreshold  = 130
)

// Tier describes the current width bucket.
type Tier int

const (
	TierNarrow Tier = iota
	TierSplit
	TierWide
)

// TierForWidth maps a terminal width to a tier.
func TierForWidth(width int) Tier {
	switch {
	case width >= WideViewThreshold:
		return TierWide
	case width >= SplitViewThreshold:
		return TierSplit
	default:
		return TierNarrow
	}
}

// Truncate trims s to max display cells, ending in "…" when cut. Wide
// glyphs count as two cells.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "…")
}

// SplitProportions returns left/right widths for the split view. Below the
// split threshold everything goes left.
func SplitProportions(total int) (left int, right int) {
	if total < SplitViewThreshold {
		return total, 0
	}
	// 4 columns of border and padding per panel.
	avail := total - 8
	left = int(float64(avail) * 0.4)
	right = avail - left
	return
}
