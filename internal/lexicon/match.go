package lexicon

import (
	"fmt"
	"strings"
)

// Covers reports whether item (for example an entry in a proposal's
// addressed list) names the constraint text: the same canonical terms, or
// the constraint's terms appearing contiguously and with the same polarity
// inside item.
func (l *Lexicon) Covers(item, text string) bool {
	want := l.Analyze(text).Terms
	have := l.Analyze(item).Terms
	if len(want) == 0 || len(have) < len(want) {
		return false
	}
	for start := 0; start+len(want) <= len(have); start++ {
		match := true
		for k := range want {
			if have[start+k].Text != want[k].Text || have[start+k].Negated != want[k].Negated {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// satisfies reports whether offered value ov meets required value rv.
func (l *Lexicon) satisfies(dim, ov, rv string) bool {
	return ov == rv || l.implies[valueRef{dim: dim, value: ov}][rv]
}

// excludedBy reports whether term, excluded by the requirement, is present
// in the offer directly or through the dimension value it names.
func (l *Lexicon) excludedBy(term string, offer Analysis) (string, bool) {
	if offer.asserted[term] {
		return term, true
	}
	if ref, ok := l.values[term]; ok {
		for ov := range offer.values[ref.dim] {
			if l.satisfies(ref.dim, ov, ref.value) {
				return ov, true
			}
		}
	}
	return "", false
}

// Contradicts reports whether offer rules out what requirement asks for,
// with a human-readable reason. It is directional: a vegan offer does not
// contradict a vegetarian requirement, but a vegetarian offer does
// contradict a vegan one.
func (l *Lexicon) Contradicts(requirement, offer string) (bool, string) {
	req := l.Analyze(requirement)
	off := l.Analyze(offer)
	return l.contradicts(req, off)
}

func (l *Lexicon) contradicts(req, off Analysis) (bool, string) {
	for _, term := range sortedKeys(req.negated) {
		if hit, ok := l.excludedBy(term, off); ok {
			return true, fmt.Sprintf("includes %q, which is excluded", hit)
		}
	}
	for _, term := range sortedKeys(req.asserted) {
		if off.negated[term] {
			return true, fmt.Sprintf("rules out %q", term)
		}
	}
	for _, dim := range sortedKeys(req.values) {
		for _, rv := range sortedKeys(req.values[dim]) {
			if off.negValues[dim][rv] {
				return true, fmt.Sprintf("rules out %q", rv)
			}
			offered := sortedKeys(off.values[dim])
			if len(offered) == 0 {
				continue
			}
			met := false
			for _, ov := range offered {
				if l.satisfies(dim, ov, rv) {
					met = true
					break
				}
			}
			if !met {
				return true, fmt.Sprintf("offers %s, which is not %s", strings.Join(offered, "/"), rv)
			}
		}
	}
	return false, ""
}

// Conflicts reports whether two constraint texts cannot both hold. Unlike
// Contradicts it is symmetric: two values of one dimension conflict only
// when neither implies the other.
func (l *Lexicon) Conflicts(a, b string) (bool, string) {
	aa := l.Analyze(a)
	ba := l.Analyze(b)
	for _, pair := range [][2]Analysis{{aa, ba}, {ba, aa}} {
		x, y := pair[0], pair[1]
		for _, term := range sortedKeys(x.negated) {
			if hit, ok := l.excludedBy(term, y); ok {
				return true, fmt.Sprintf("%q is excluded by one side and wanted by the other", hit)
			}
		}
	}
	for _, dim := range sortedKeys(aa.values) {
		for _, va := range sortedKeys(aa.values[dim]) {
			for _, vb := range sortedKeys(ba.values[dim]) {
				if !l.satisfies(dim, va, vb) && !l.satisfies(dim, vb, va) {
					return true, fmt.Sprintf("%s and %s are mutually exclusive %s choices", va, vb, dim)
				}
			}
		}
	}
	return false, ""
}

// Compatible reports whether two constraint texts can be satisfied together.
func (l *Lexicon) Compatible(a, b string) bool {
	conflict, _ := l.Conflicts(a, b)
	return !conflict
}

// Affirms reports whether offer positively confirms requirement: every
// required dimension value is met, every exclusion is explicitly honoured,
// or the requirement's terms all appear in the offer with the same polarity.
func (l *Lexicon) Affirms(requirement, offer string) (bool, string) {
	req := l.Analyze(requirement)
	off := l.Analyze(offer)
	if bad, _ := l.contradicts(req, off); bad {
		return false, ""
	}

	if dims := sortedKeys(req.values); len(dims) > 0 {
		var evidence []string
		for _, dim := range dims {
			for _, rv := range sortedKeys(req.values[dim]) {
				found := ""
				for _, ov := range sortedKeys(off.values[dim]) {
					if l.satisfies(dim, ov, rv) {
						found = ov
						break
					}
				}
				if found == "" {
					return false, ""
				}
				evidence = append(evidence, found)
			}
		}
		return true, "offers " + strings.Join(evidence, ", ")
	}

	content := req.Content()
	if len(content) == 0 {
		return false, ""
	}
	onlyExclusions := true
	for _, t := range content {
		if !t.Negated {
			onlyExclusions = false
		}
	}
	var evidence []string
	for _, t := range content {
		if t.Negated {
			if !off.negated[t.Text] && !l.valueNegated(t.Text, off) {
				return false, ""
			}
		} else if !off.asserted[t.Text] {
			return false, ""
		}
		evidence = append(evidence, t.String())
	}
	if onlyExclusions {
		return true, "explicitly excludes " + strings.Join(evidence, ", ")
	}
	return true, "mentions " + strings.Join(evidence, ", ")
}

func (l *Lexicon) valueNegated(term string, a Analysis) bool {
	ref, ok := l.values[term]
	return ok && a.negValues[ref.dim][ref.value]
}
