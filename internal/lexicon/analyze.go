package lexicon

import (
	"regexp"
	"sort"
	"strings"
)

var (
	priorityWordsRe = regexp.MustCompile(`\b(?:non[- ]negotiable|must[- ]have|nice[- ]to[- ]have|would[- ](?:love|like)|strong[- ]preference)\b`)
	freeSuffixRe    = regexp.MustCompile(`\b([a-z]+)[- ]free\b`)
	allergyRe       = regexp.MustCompile(`\b([a-z]+) allerg(?:y|ies)\b`)
	negPhraseRe     = regexp.MustCompile(`\b(?:without|avoid(?:ing)?|allergic to|allergy to|free of|(?:can't|cannot|can not|don't|do not|won't|will not|shouldn't|should not) (?:have|eat|drink|handle|tolerate|be around))\b`)
	sentenceEndRe   = regexp.MustCompile(`\.(\s|$)`)
	punctRe         = regexp.MustCompile(`[,;!?()\[\]{}"]`)
)

// Words that a "-free" suffix attaches to without meaning exclusion.
var freeExempt = map[string]bool{
	"for": true, "is": true, "its": true, "it's": true, "be": true, "are": true,
	"and": true, "or": true, "a": true, "the": true, "entry": true, "admission": true,
	"totally": true, "completely": true, "feel": true, "hands": true,
}

var negators = map[string]bool{"no": true, "not": true, "nor": true, "never": true, "non": true, "none": true}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "any": true, "of": true, "more": true, "too": true,
	"much": true, "or": true, "very": true, "fully": true, "strictly": true, "completely": true,
	"totally": true, "only": true, "just": true, "really": true, "please": true, "must": true,
	"need": true, "needs": true, "needed": true, "i": true, "we": true, "my": true, "our": true,
	"us": true, "me": true, "want": true, "wants": true, "would": true, "should": true, "it": true,
	"its": true, "be": true, "being": true, "have": true, "has": true, "having": true,
	"prefer": true, "preferably": true, "ideally": true, "require": true, "requires": true,
	"required": true, "some": true, "all": true, "kind": true, "type": true, "sort": true,
	"can": true, "could": true, "will": true, "100%": true, "absolutely": true,
}

var breakWords = map[string]bool{
	"|": true, "and": true, "but": true, "with": true, "while": true, "that": true, "which": true,
	"is": true, "are": true, "was": true, "at": true, "in": true, "on": true, "for": true,
	"near": true, "to": true, "because": true, "so": true, "then": true, "plus": true,
	"instead": true, "though": true, "also": true, "by": true, "from": true, "after": true,
	"before": true, "until": true, "than": true, "if": true, "when": true, "where": true,
}

// Term is one canonical unit of meaning in a text.
type Term struct {
	Text    string
	Negated bool
	Neutral bool
}

// String renders the term with its polarity.
func (t Term) String() string {
	if t.Negated {
		return "no " + t.Text
	}
	return t.Text
}

// Analysis is the lexical reading of one text.
type Analysis struct {
	Terms     []Term
	asserted  map[string]bool
	negated   map[string]bool
	values    map[string]map[string]bool
	negValues map[string]map[string]bool
}

// Asserted reports whether the term is mentioned positively.
func (a Analysis) Asserted(term string) bool {
	return a.asserted[term]
}

// Negated reports whether the term is excluded.
func (a Analysis) Negated(term string) bool {
	return a.negated[term]
}

// Values returns the sorted dimension values asserted for dim.
func (a Analysis) Values(dim string) []string {
	return sortedKeys(a.values[dim])
}

// Dimensions returns the sorted names of dimensions with asserted values.
func (a Analysis) Dimensions() []string {
	return sortedKeys(a.values)
}

// Content returns the non-neutral terms with their polarity.
func (a Analysis) Content() []Term {
	var out []Term
	for _, t := range a.Terms {
		if !t.Neutral {
			out = append(out, t)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func rewrite(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("≤", " <= ", "≥", " >= ", "–", "-", "—", "-", "’", "'", "&", " and ").Replace(s)
	s = priorityWordsRe.ReplaceAllString(s, " ")
	s = freeSuffixRe.ReplaceAllStringFunc(s, func(m string) string {
		word := freeSuffixRe.FindStringSubmatch(m)[1]
		if freeExempt[word] {
			return m
		}
		return "no " + word
	})
	s = negPhraseRe.ReplaceAllString(s, "no")
	s = allergyRe.ReplaceAllString(s, "no $1")
	s = sentenceEndRe.ReplaceAllString(s, " | $1")
	s = punctRe.ReplaceAllString(s, " | ")
	s = strings.NewReplacer("/", " ", "-", " ").Replace(s)
	return s
}

func tokenize(s string) []string {
	fields := strings.Fields(rewrite(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "|" {
			out = append(out, f)
			continue
		}
		f = strings.Trim(f, ".:'")
		f = strings.ReplaceAll(f, "'", "")
		if f == "" {
			continue
		}
		out = append(out, singular(f))
	}
	return out
}

// singular strips a plain plural "s" so "options" and "option" agree.
func singular(tok string) string {
	if len(tok) <= 3 || !strings.HasSuffix(tok, "s") {
		return tok
	}
	if strings.HasSuffix(tok, "ss") || strings.HasSuffix(tok, "us") || strings.HasSuffix(tok, "is") {
		return tok
	}
	if strings.ContainsAny(tok, "0123456789$") {
		return tok
	}
	return tok[:len(tok)-1]
}

// baseTokens tokenizes configured phrases, which never carry punctuation
// breaks.
func baseTokens(s string) []string {
	toks := tokenize(s)
	out := toks[:0]
	for _, t := range toks {
		if t != "|" {
			out = append(out, t)
		}
	}
	return out
}

// Analyze reads text into canonical terms with polarity. Negation ("no",
// "not", "-free", "without", "allergic to") covers the terms that follow it
// up to the next clause break; "or" carries it forward.
func (l *Lexicon) Analyze(text string) Analysis {
	a := Analysis{
		asserted:  make(map[string]bool),
		negated:   make(map[string]bool),
		values:    make(map[string]map[string]bool),
		negValues: make(map[string]map[string]bool),
	}
	toks := tokenize(text)
	neg := false
	for i := 0; i < len(toks); {
		tok := toks[i]
		switch {
		case breakWords[tok]:
			neg = false
			i++
			continue
		case negators[tok]:
			neg = true
			i++
			continue
		case stopwords[tok]:
			i++
			continue
		}

		term, width := l.matchPhrase(toks[i:])
		i += width
		t := Term{Text: term, Negated: neg, Neutral: l.neutral[term]}
		a.Terms = append(a.Terms, t)
		if t.Neutral {
			continue
		}
		if neg {
			a.negated[term] = true
		} else {
			a.asserted[term] = true
		}
		if ref, ok := l.values[term]; ok {
			target := a.values
			if neg {
				target = a.negValues
			}
			if target[ref.dim] == nil {
				target[ref.dim] = make(map[string]bool)
			}
			target[ref.dim][ref.value] = true
		}
	}
	return a
}

// matchPhrase returns the canonical term starting at toks[0] and how many
// tokens it consumed, preferring the longest known phrase.
func (l *Lexicon) matchPhrase(toks []string) (string, int) {
	limit := l.maxPhrase
	if limit > len(toks) {
		limit = len(toks)
	}
	for n := limit; n >= 2; n-- {
		if containsBreak(toks[:n]) {
			continue
		}
		key := strings.Join(toks[:n], " ")
		if canon, ok := l.synonyms[key]; ok {
			return canon, n
		}
		if l.phrases[key] {
			return key, n
		}
	}
	if canon, ok := l.synonyms[toks[0]]; ok {
		return canon, 1
	}
	return toks[0], 1
}

func containsBreak(toks []string) bool {
	for _, t := range toks {
		if t == "|" || negators[t] {
			return true
		}
	}
	return false
}

// Canonical renders text as its sequence of canonical terms, so that two
// phrasings of the same constraint compare equal.
func (l *Lexicon) Canonical(text string) string {
	a := l.Analyze(text)
	parts := make([]string, 0, len(a.Terms))
	for _, t := range a.Terms {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, " ")
}

// Same reports whether two texts have the same canonical form.
func (l *Lexicon) Same(a, b string) bool {
	ca := l.Canonical(a)
	return ca != "" && ca == l.Canonical(b)
}
