package bounds

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	moneyRe         = regexp.MustCompile(`(?i)\$\s?(\d[\d,]*(?:\.\d+)?)(\s?k\b)?(\+)?|\b(\d[\d,]*(?:\.\d+)?)\s?(?:dollars|usd|bucks)\b`)
	moneyRangeRe    = regexp.MustCompile(`(?i)\$\s?(\d[\d,]*(?:\.\d+)?)\s*(?:-|–|to|and)\s*\$\s?(\d[\d,]*(?:\.\d+)?)`)
	clockRe         = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s?m\b\.?`)
	namedClockRe    = regexp.MustCompile(`(?i)\b(noon|midday|midnight)\b`)
	clock24Re       = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	shortWindowRe   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(?:-|–|to)\s*(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s?m\b`)
	windowSepRe     = regexp.MustCompile(`(?i)^\s*(?:-|–|—|to|until|till|through|and)\s*$`)
	durationRe      = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*-?\s*(hours?|hrs?|h|minutes?|mins?)\b`)
	namedDurationRe = regexp.MustCompile(`(?i)\b(half[- ]day|full[- ]day|all[- ]day|an hour|one hour|a couple (?:of )?hours|couple (?:of )?hours)\b`)
	headcountRe     = regexp.MustCompile(`(?i)\b(\d+)\s*(?:people|persons|guests|participants|attendees|adults|of us)\b|\b(?:group|party|table) of (\d+)\b`)
)

var (
	ceilingCues = []string{
		"no more than", "not more than", "not to exceed", "not exceed", "not over", "less than",
		"at most", "up to", "capped at", "capped", "maximum", "max", "under", "below", "within",
		"cap", "limit", "budget", "afford", "<=", "≤", "<",
	}
	ceilingSuffixCues = []string{"or less", "or under", "max", "maximum", "tops", "budget", "limit", "cap", "at most"}
	floorCues         = []string{"at least", "minimum", "min", "more than", "over", "above", "starting at", "starts at", "starting", "starts", "from", ">=", "≥", ">"}
	floorSuffixCues   = []string{"or more", "and up", "plus", "minimum", "at least"}
	excludeCues       = []string{"instead of", "rather than", "not", "avoid", "avoiding", "skip"}
	moneyFillers      = []string{"of", "is", "a", "the", "around", "about", "approximately", "roughly", "~", "at", "spend", "spending"}
)

// Clock role cues, checked in order so that longer phrases win.
var timeCues = []struct {
	role TimeRole
	cues []string
}{
	{RoleEarliestEnd, []string{
		"cannot leave before", "can't leave before", "can not leave before", "not leave before",
		"stay until", "stay till", "leave after", "stay past",
	}},
	{RoleEarliestStart, []string{
		"cannot start before", "can't start before", "can not start before", "not start before",
		"cannot begin before", "can't begin before", "not before", "no earlier than", "not earlier than",
		"earliest", "start after", "starting after", "begin after", "available from", "free from",
		"free after", "after", "from", "start at", "starting at", "starts at", "begin at", "beginning at",
	}},
	{RoleLatestStart, []string{
		"start no later than", "start by", "starts by", "start before", "begin by", "arrive by",
		"arrive before", "be there by", "get there by",
	}},
	{RoleLatestEnd, []string{
		"no later than", "not later than", "leave by", "leave at", "leave before", "out by", "done by",
		"finish by", "finished by", "wrap up by", "end by", "ends by", "back by", "home by",
		"end at", "ends at", "over by", "until", "till", "before", "by", "latest",
	}},
}

var clockFillers = []string{"around", "about", "approximately", "roughly", "~", "the", "at", "like"}

type span struct{ start, end int }

func overlaps(spans []span, s, e int) bool {
	for _, sp := range spans {
		if s < sp.end && e > sp.start {
			return true
		}
	}
	return false
}

// ExtractLimits reads text as a constraint: a bare amount is a spending
// limit, a bare clock time is a required start, and a window bounds both
// ends of the day.
func ExtractLimits(text string) Bounds {
	b := Extract(text)
	b.Ceilings = append(b.Ceilings, b.Amounts...)
	b.Amounts = nil
	times := make([]TimeBound, 0, len(b.Times))
	for _, t := range b.Times {
		if t.Role != RoleAt {
			times = append(times, t)
			continue
		}
		times = append(times,
			TimeBound{Role: RoleEarliestStart, At: t.At},
			TimeBound{Role: RoleLatestStart, At: t.At},
		)
	}
	for _, w := range b.Windows {
		times = append(times,
			TimeBound{Role: RoleEarliestStart, At: w.Start},
			TimeBound{Role: RoleLatestEnd, At: w.End},
		)
	}
	b.Times = times
	return b
}

// Extract reads every bound stated in text.
func Extract(text string) Bounds {
	var b Bounds
	extractMoney(text, &b)
	extractTimes(text, &b)
	extractDurations(text, &b)
	for _, m := range headcountRe.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			b.Headcounts = append(b.Headcounts, n)
		}
	}
	return b
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return v, err == nil
}

func extractMoney(text string, b *Bounds) {
	lower := strings.ToLower(text)
	var used []span
	for _, idx := range moneyRangeRe.FindAllStringSubmatchIndex(text, -1) {
		lo, ok1 := parseAmount(text[idx[2]:idx[3]])
		hi, ok2 := parseAmount(text[idx[4]:idx[5]])
		if !ok1 || !ok2 {
			continue
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		used = append(used, span{idx[0], idx[1]})
		if excluded(lower[:idx[0]]) {
			continue
		}
		b.Ranges = append(b.Ranges, Range{Lo: lo, Hi: hi})
	}

	for _, idx := range moneyRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(used, idx[0], idx[1]) {
			continue
		}
		var raw string
		if idx[2] >= 0 {
			raw = text[idx[2]:idx[3]]
		} else {
			raw = text[idx[8]:idx[9]]
		}
		v, ok := parseAmount(raw)
		if !ok {
			continue
		}
		if idx[4] >= 0 {
			v *= 1000
		}
		prefix := lower[:idx[0]]
		if excluded(prefix) {
			continue
		}
		suffix := strings.TrimSpace(lower[idx[1]:])
		plus := idx[6] >= 0

		switch {
		case plus || hasPrefixAny(suffix, floorSuffixCues):
			b.Floors = append(b.Floors, v)
		case endsWithCue(trimFillers(prefix, moneyFillers), ceilingCues) != "" || hasPrefixAny(suffix, ceilingSuffixCues):
			b.Ceilings = append(b.Ceilings, v)
		case endsWithCue(trimFillers(prefix, moneyFillers), floorCues) != "":
			b.Floors = append(b.Floors, v)
		default:
			b.Amounts = append(b.Amounts, v)
		}
	}
}

// excluded reports whether an exclusion cue precedes the value. Fillers are
// stripped one word at a time because some cues end in a filler ("instead of").
func excluded(prefix string) bool {
	s := strings.TrimSpace(prefix)
	for {
		if endsWithCue(s, excludeCues) != "" {
			return true
		}
		next := trimFiller(s, moneyFillers)
		if next == s {
			return false
		}
		s = next
	}
}

type clockHit struct {
	start, end int
	at         Clock
}

func findClocks(text string) []clockHit {
	var hits []clockHit
	var used []span
	for _, m := range clockRe.FindAllStringSubmatchIndex(text, -1) {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute := 0
		if m[4] >= 0 {
			minute, _ = strconv.Atoi(text[m[4]:m[5]])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			continue
		}
		pm := strings.EqualFold(text[m[6]:m[7]], "p")
		hits = append(hits, clockHit{m[0], m[1], meridiem(hour, minute, pm)})
		used = append(used, span{m[0], m[1]})
	}
	for _, m := range namedClockRe.FindAllStringSubmatchIndex(text, -1) {
		at := NewClock(12, 0)
		if strings.EqualFold(text[m[2]:m[3]], "midnight") {
			at = NewClock(24, 0)
		}
		hits = append(hits, clockHit{m[0], m[1], at})
		used = append(used, span{m[0], m[1]})
	}
	for _, m := range clock24Re.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(used, m[0], m[1]) {
			continue
		}
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute, _ := strconv.Atoi(text[m[4]:m[5]])
		hits = append(hits, clockHit{m[0], m[1], NewClock(hour, minute)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

func meridiem(hour, minute int, pm bool) Clock {
	h := hour % 12
	if pm {
		h += 12
	}
	return NewClock(h, minute)
}

func extractTimes(text string, b *Bounds) {
	lower := strings.ToLower(text)
	hits := findClocks(text)
	paired := make(map[int]bool)

	for i := 0; i+1 < len(hits); i++ {
		sep := text[hits[i].end:hits[i+1].start]
		if !windowSepRe.MatchString(sep) {
			continue
		}
		if strings.Contains(strings.ToLower(sep), "and") && !strings.HasSuffix(strings.TrimSpace(lower[:hits[i].start]), "between") {
			continue
		}
		start, end := hits[i].at, hits[i+1].at
		if end <= start {
			end += 24 * 60
		}
		b.Windows = append(b.Windows, Window{Start: start, End: end})
		paired[i], paired[i+1] = true, true
		i++
	}

	var windowSpans []span
	for i, h := range hits {
		if paired[i] {
			windowSpans = append(windowSpans, span{h.start, h.end})
		}
	}
	for _, m := range shortWindowRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(windowSpans, m[0], m[1]) {
			continue
		}
		h1, _ := strconv.Atoi(text[m[2]:m[3]])
		min1 := 0
		if m[4] >= 0 {
			min1, _ = strconv.Atoi(text[m[4]:m[5]])
		}
		h2, _ := strconv.Atoi(text[m[6]:m[7]])
		min2 := 0
		if m[8] >= 0 {
			min2, _ = strconv.Atoi(text[m[8]:m[9]])
		}
		if h1 < 1 || h1 > 12 || h2 < 1 || h2 > 12 {
			continue
		}
		pm := strings.EqualFold(text[m[10]:m[11]], "p")
		end := meridiem(h2, min2, pm)
		start := meridiem(h1, min1, pm)
		if start > end {
			start = meridiem(h1, min1, !pm)
		}
		b.Windows = append(b.Windows, Window{Start: start, End: end})
		windowSpans = append(windowSpans, span{m[0], m[1]})
		for i, h := range hits {
			if h.start >= m[0] && h.end <= m[1] {
				paired[i] = true
			}
		}
	}

	prevEnd := 0
	for i, h := range hits {
		if paired[i] {
			prevEnd = h.end
			continue
		}
		prefix := lower[prevEnd:h.start]
		if cut := strings.LastIndexAny(prefix, ".;!?,"); cut >= 0 {
			prefix = prefix[cut+1:]
		}
		suffix := strings.TrimSpace(lower[h.end:])
		b.Times = append(b.Times, TimeBound{Role: clockRole(prefix, suffix), At: h.at})
		prevEnd = h.end
	}
}

func clockRole(prefix, suffix string) TimeRole {
	switch {
	case strings.HasPrefix(suffix, "at the latest") || strings.HasPrefix(suffix, "latest"):
		return RoleLatestEnd
	case strings.HasPrefix(suffix, "at the earliest") || strings.HasPrefix(suffix, "earliest"):
		return RoleEarliestStart
	}
	trimmed := trimFillers(prefix, clockFillers)
	for _, group := range timeCues {
		if endsWithCue(trimmed, group.cues) != "" || endsWithCue(strings.TrimSpace(prefix), group.cues) != "" {
			return group.role
		}
	}
	return RoleAt
}

func extractDurations(text string, b *Bounds) {
	for _, m := range durationRe.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v <= 0 {
			continue
		}
		unit := strings.ToLower(m[2])
		var d time.Duration
		if strings.HasPrefix(unit, "h") {
			d = time.Duration(v * float64(time.Hour))
		} else {
			d = time.Duration(v * float64(time.Minute))
		}
		b.Durations = append(b.Durations, d)
	}
	for _, m := range namedDurationRe.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		switch {
		case strings.HasPrefix(lower, "half"):
			b.Durations = append(b.Durations, 4*time.Hour)
		case strings.HasPrefix(lower, "full"), strings.HasPrefix(lower, "all"):
			b.Durations = append(b.Durations, 8*time.Hour)
		case strings.Contains(lower, "couple"):
			b.Durations = append(b.Durations, 2*time.Hour)
		default:
			b.Durations = append(b.Durations, time.Hour)
		}
	}
}

// trimFillers strips trailing filler words so "within the" reads as "within".
func trimFillers(s string, fillers []string) string {
	s = strings.TrimSpace(s)
	for {
		changed := false
		for _, f := range fillers {
			if s == f {
				return ""
			}
			if strings.HasSuffix(s, " "+f) {
				s = strings.TrimSpace(strings.TrimSuffix(s, f))
				changed = true
			}
		}
		if !changed {
			return s
		}
	}
}

// trimFiller strips a single trailing filler word.
func trimFiller(s string, fillers []string) string {
	for _, f := range fillers {
		if s == f {
			return ""
		}
		if strings.HasSuffix(s, " "+f) {
			return strings.TrimSpace(strings.TrimSuffix(s, f))
		}
	}
	return s
}

// endsWithCue returns the first cue that s ends with on a word boundary.
func endsWithCue(s string, cues []string) string {
	s = strings.TrimSpace(s)
	for _, cue := range cues {
		if !strings.HasSuffix(s, cue) {
			continue
		}
		rest := s[:len(s)-len(cue)]
		if rest == "" || strings.HasSuffix(rest, " ") || !isWordByte(cue[0]) {
			return cue
		}
	}
	return ""
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func hasPrefixAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.HasPrefix(s, cue) {
			rest := s[len(cue):]
			if rest == "" || !isWordByte(rest[0]) {
				return true
			}
		}
	}
	return false
}
