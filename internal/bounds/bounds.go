// Package bounds pulls explicit numeric and temporal limits out of free
// text: money ceilings and floors, clock times with the role they play
// ("leave by", "not before"), time windows, durations and head counts.
package bounds

import (
	"fmt"
	"sort"
	"time"
)

// Clock is a time of day in minutes since midnight.
type Clock int

// NewClock builds a Clock from a 24-hour hour and minute.
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// Add returns the clock advanced by d. The result may pass midnight, which
// is what feasibility arithmetic wants.
func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Minute)
}

// String renders the clock as "3pm" or "10:30am"; values past midnight
// carry a "+1d" suffix.
func (c Clock) String() string {
	day := ""
	m := int(c)
	if m >= 24*60 {
		day = "+1d"
		m -= 24 * 60
	}
	h, mins := m/60, m%60
	suffix := "am"
	if h >= 12 {
		suffix = "pm"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if mins == 0 {
		return fmt.Sprintf("%d%s%s", h12, suffix, day)
	}
	return fmt.Sprintf("%d:%02d%s%s", h12, mins, suffix, day)
}

// TimeRole is the part a stated time plays in a constraint.
type TimeRole string

const (
	RoleEarliestStart TimeRole = "earliest-start"
	RoleLatestStart   TimeRole = "latest-start"
	RoleEarliestEnd   TimeRole = "earliest-end"
	RoleLatestEnd     TimeRole = "latest-end"
	RoleAt            TimeRole = "at"
)

// TimeBound is one clock time found in text.
type TimeBound struct {
	Role TimeRole `json:"role"`
	At   Clock    `json:"at"`
}

// Window is a stated span of time.
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Duration of the window.
func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Minute
}

// String renders the window as "10am-4pm".
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Range is a stated money range.
type Range struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Bounds collects everything extracted from one or more texts.
type Bounds struct {
	Ceilings   []float64       `json:"ceilings,omitempty"`
	Floors     []float64       `json:"floors,omitempty"`
	Amounts    []float64       `json:"amounts,omitempty"`
	Ranges     []Range         `json:"ranges,omitempty"`
	Times      []TimeBound     `json:"times,omitempty"`
	Windows    []Window        `json:"windows,omitempty"`
	Durations  []time.Duration `json:"durations,omitempty"`
	Headcounts []int           `json:"headcounts,omitempty"`
}

// Merge combines several extractions.
func Merge(all ...Bounds) Bounds {
	var out Bounds
	for _, b := range all {
		out.Ceilings = append(out.Ceilings, b.Ceilings...)
		out.Floors = append(out.Floors, b.Floors...)
		out.Amounts = append(out.Amounts, b.Amounts...)
		out.Ranges = append(out.Ranges, b.Ranges...)
		out.Times = append(out.Times, b.Times...)
		out.Windows = append(out.Windows, b.Windows...)
		out.Durations = append(out.Durations, b.Durations...)
		out.Headcounts = append(out.Headcounts, b.Headcounts...)
	}
	return out
}

// HasMoney reports whether any money figure was found.
func (b Bounds) HasMoney() bool {
	return len(b.Ceilings)+len(b.Floors)+len(b.Amounts)+len(b.Ranges) > 0
}

// HasTime reports whether any clock time, window or duration was found.
func (b Bounds) HasTime() bool {
	return len(b.Times)+len(b.Windows)+len(b.Durations) > 0
}

// HasClock reports whether any clock time or window was found.
func (b Bounds) HasClock() bool {
	return len(b.Times)+len(b.Windows) > 0
}

// IsEmpty reports whether nothing was extracted.
func (b Bounds) IsEmpty() bool {
	return !b.HasMoney() && !b.HasTime() && len(b.Headcounts) == 0
}

// Ceiling is the tightest upper money limit, treating a range's upper end
// as a limit.
func (b Bounds) Ceiling() (float64, bool) {
	vals := append([]float64(nil), b.Ceilings...)
	for _, r := range b.Ranges {
		vals = append(vals, r.Hi)
	}
	return minFloat(vals)
}

// Floor is the highest lower money limit, treating a range's lower end as
// a limit.
func (b Bounds) Floor() (float64, bool) {
	vals := append([]float64(nil), b.Floors...)
	for _, r := range b.Ranges {
		vals = append(vals, r.Lo)
	}
	return maxFloat(vals)
}

// Offered returns the lowest and highest money figures a proposal commits
// to, reading amounts, floors and range ends as things that will be spent.
// A stated ceiling ("under $20") is used only when nothing else is given.
func (b Bounds) Offered() (lo, hi float64, ok bool) {
	vals := append([]float64(nil), b.Amounts...)
	vals = append(vals, b.Floors...)
	for _, r := range b.Ranges {
		vals = append(vals, r.Lo, r.Hi)
	}
	if len(vals) == 0 {
		if c, has := minFloat(b.Ceilings); has {
			return 0, c, true
		}
		return 0, 0, false
	}
	lo, _ = minFloat(vals)
	hi, _ = maxFloat(vals)
	return lo, hi, true
}

// OpenEnded reports whether the offer includes an open-ended floor
// ("$600+"), whose true cost has no stated upper end.
func (b Bounds) OpenEnded() bool {
	return len(b.Floors) > 0
}

func (b Bounds) clocks(role TimeRole) []Clock {
	var out []Clock
	for _, t := range b.Times {
		if t.Role == role {
			out = append(out, t.At)
		}
	}
	return out
}

// EarliestStart is the latest of all "not before" times.
func (b Bounds) EarliestStart() (Clock, bool) {
	return maxClock(b.clocks(RoleEarliestStart))
}

// LatestStart is the earliest of all "start by" times.
func (b Bounds) LatestStart() (Clock, bool) {
	return minClock(b.clocks(RoleLatestStart))
}

// EarliestEnd is the latest of all "stay until" times.
func (b Bounds) EarliestEnd() (Clock, bool) {
	return maxClock(b.clocks(RoleEarliestEnd))
}

// LatestEnd is the earliest of all "leave by" times.
func (b Bounds) LatestEnd() (Clock, bool) {
	return minClock(b.clocks(RoleLatestEnd))
}

// Duration is the longest stated duration.
func (b Bounds) Duration() (time.Duration, bool) {
	if len(b.Durations) == 0 {
		return 0, false
	}
	longest := b.Durations[0]
	for _, d := range b.Durations[1:] {
		if d > longest {
			longest = d
		}
	}
	return longest, true
}

// Headcount is the largest stated group size.
func (b Bounds) Headcount() (int, bool) {
	if len(b.Headcounts) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), b.Headcounts...)
	sort.Ints(sorted)
	return sorted[len(sorted)-1], true
}

// Span returns the time span an offer occupies: an explicit window, or a
// start time plus the longest duration.
func (b Bounds) Span() (Window, bool) {
	if len(b.Windows) > 0 {
		w := b.Windows[0]
		for _, other := range b.Windows[1:] {
			if other.Start < w.Start {
				w.Start = other.Start
			}
			if other.End > w.End {
				w.End = other.End
			}
		}
		return w, true
	}
	dur, hasDur := b.Duration()
	if !hasDur {
		return Window{}, false
	}
	for _, role := range []TimeRole{RoleAt, RoleEarliestStart, RoleLatestStart} {
		if starts := b.clocks(role); len(starts) > 0 {
			start, _ := minClock(starts)
			return Window{Start: start, End: start.Add(dur)}, true
		}
	}
	return Window{}, false
}

func minFloat(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m, true
}

func maxFloat(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m, true
}

func minClock(vals []Clock) (Clock, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m, true
}

func maxClock(vals []Clock) (Clock, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m, true
}

// FormatMoney renders an amount as "$400" or "$18.50".
func FormatMoney(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("$%d", int64(v))
	}
	return fmt.Sprintf("$%.2f", v)
}

// FormatDuration renders a duration as "6h" or "1h30m".
func FormatDuration(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
