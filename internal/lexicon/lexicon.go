// Package lexicon is the pluggable semantic matcher behind structuring,
// proposal validation and satisfaction classification. It knows which
// phrases mean the same thing, which values of a dimension exclude each
// other, what a negation covers, and what common items typically cost.
//
// Matching is lexical; no model is consulted.
package lexicon

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/accord/internal/constraint"
)

// SynonymGroup maps a set of interchangeable phrases onto one canonical term.
type SynonymGroup struct {
	Canonical string   `json:"canonical" toml:"canonical" yaml:"canonical"`
	Terms     []string `json:"terms" toml:"terms" yaml:"terms"`
}

// Value is one answer within an exclusive dimension. Implies lists weaker
// values it satisfies (vegan implies vegetarian).
type Value struct {
	Name    string   `json:"name" toml:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" toml:"aliases" yaml:"aliases,omitempty"`
	Implies []string `json:"implies,omitempty" toml:"implies" yaml:"implies,omitempty"`
}

// Dimension is a set of values that exclude each other unless one implies
// the other.
type Dimension struct {
	Name     string              `json:"name" toml:"name" yaml:"name"`
	Category constraint.Category `json:"category" toml:"category" yaml:"category"`
	Values   []Value             `json:"values" toml:"values" yaml:"values"`
}

// CostEntry is the typical per-person cost range of an item. Max of zero
// means open-ended.
type CostEntry struct {
	Item     string   `json:"item" toml:"item" yaml:"item"`
	Group    string   `json:"group" toml:"group" yaml:"group"`
	Keywords []string `json:"keywords" toml:"keywords" yaml:"keywords"`
	Min      float64  `json:"min" toml:"min" yaml:"min"`
	Max      float64  `json:"max,omitempty" toml:"max" yaml:"max,omitempty"`
}

// Range renders the cost range for humans ("$600+", "$20-$40").
func (c CostEntry) Range() string {
	if c.Max <= 0 {
		return fmt.Sprintf("$%s+", formatAmount(c.Min))
	}
	return fmt.Sprintf("$%s-$%s", formatAmount(c.Min), formatAmount(c.Max))
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// Config is the serializable form of a lexicon. Entries extend the
// defaults when merged.
type Config struct {
	Synonyms         []SynonymGroup                   `json:"synonyms,omitempty" toml:"synonyms" yaml:"synonyms,omitempty"`
	Dimensions       []Dimension                      `json:"dimensions,omitempty" toml:"dimensions" yaml:"dimensions,omitempty"`
	Costs            []CostEntry                      `json:"costs,omitempty" toml:"costs" yaml:"costs,omitempty"`
	CategoryKeywords map[constraint.Category][]string `json:"category_keywords,omitempty" toml:"category_keywords" yaml:"category_keywords,omitempty"`
	Neutral          []string                         `json:"neutral,omitempty" toml:"neutral" yaml:"neutral,omitempty"`
}

type valueRef struct {
	dim   string
	value string
}

// Lexicon is an immutable, compiled matcher. It is safe for concurrent use.
type Lexicon struct {
	cfg       Config
	synonyms  map[string]string
	phrases   map[string]bool
	maxPhrase int
	values    map[string]valueRef
	implies   map[valueRef]map[string]bool
	dimCat    map[string]constraint.Category
	costs     []CostEntry
	costTerms [][]string
	catWords  map[constraint.Category]map[string]bool
	neutral   map[string]bool
}

// New compiles a lexicon from cfg alone.
func New(cfg Config) (*Lexicon, error) {
	l := &Lexicon{
		cfg:      cfg,
		synonyms: make(map[string]string),
		phrases:  make(map[string]bool),
		values:   make(map[string]valueRef),
		implies:  make(map[valueRef]map[string]bool),
		dimCat:   make(map[string]constraint.Category),
		catWords: make(map[constraint.Category]map[string]bool),
		neutral:  make(map[string]bool),
	}

	for _, g := range cfg.Synonyms {
		canon := strings.Join(baseTokens(g.Canonical), " ")
		if canon == "" {
			return nil, fmt.Errorf("synonym group has empty canonical term")
		}
		l.addPhrase(canon)
		for _, term := range g.Terms {
			key := strings.Join(baseTokens(term), " ")
			if key == "" {
				continue
			}
			if prev, ok := l.synonyms[key]; ok && prev != canon {
				return nil, fmt.Errorf("term %q is in synonym groups %q and %q", term, prev, canon)
			}
			l.synonyms[key] = canon
			l.addPhrase(key)
		}
	}
	if err := l.resolveSynonyms(); err != nil {
		return nil, err
	}

	for _, d := range cfg.Dimensions {
		if d.Name == "" {
			return nil, fmt.Errorf("dimension has no name")
		}
		if d.Category != "" && !d.Category.IsValid() {
			return nil, fmt.Errorf("dimension %q: unknown category %q", d.Name, d.Category)
		}
		l.dimCat[d.Name] = d.Category
		direct := make(map[string][]string)
		for _, v := range d.Values {
			ref := valueRef{dim: d.Name, value: v.Name}
			for _, alias := range append([]string{v.Name}, v.Aliases...) {
				key := l.canonicalPhrase(alias)
				if key == "" {
					continue
				}
				if prev, ok := l.values[key]; ok && prev != ref {
					return nil, fmt.Errorf("alias %q maps to %s/%s and %s/%s", alias, prev.dim, prev.value, d.Name, v.Name)
				}
				l.values[key] = ref
				l.addPhrase(key)
			}
			direct[v.Name] = v.Implies
		}
		for _, v := range d.Values {
			closure := make(map[string]bool)
			stack := append([]string(nil), direct[v.Name]...)
			for len(stack) > 0 {
				next := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if closure[next] || next == v.Name {
					continue
				}
				if _, known := direct[next]; !known {
					return nil, fmt.Errorf("dimension %q: %q implies unknown value %q", d.Name, v.Name, next)
				}
				closure[next] = true
				stack = append(stack, direct[next]...)
			}
			l.implies[valueRef{dim: d.Name, value: v.Name}] = closure
		}
	}

	for _, c := range cfg.Costs {
		if c.Min < 0 || (c.Max > 0 && c.Max < c.Min) {
			return nil, fmt.Errorf("cost entry %q has invalid range", c.Item)
		}
		var terms []string
		for _, kw := range c.Keywords {
			key := l.canonicalPhrase(kw)
			if key == "" {
				continue
			}
			l.addPhrase(key)
			terms = append(terms, key)
		}
		if len(terms) == 0 {
			return nil, fmt.Errorf("cost entry %q has no keywords", c.Item)
		}
		l.costs = append(l.costs, c)
		l.costTerms = append(l.costTerms, terms)
	}

	for cat, words := range cfg.CategoryKeywords {
		if !cat.IsValid() {
			return nil, fmt.Errorf("category keywords: unknown category %q", cat)
		}
		set := l.catWords[cat]
		if set == nil {
			set = make(map[string]bool)
			l.catWords[cat] = set
		}
		for _, w := range words {
			if key := l.canonicalPhrase(w); key != "" {
				set[key] = true
				l.addPhrase(key)
			}
		}
	}

	for _, n := range cfg.Neutral {
		if key := l.canonicalPhrase(n); key != "" {
			l.neutral[key] = true
		}
	}
	return l, nil
}

func (l *Lexicon) addPhrase(p string) {
	n := len(strings.Fields(p))
	if n > 1 {
		l.phrases[p] = true
	}
	if n > l.maxPhrase {
		l.maxPhrase = n
	}
}

// canonicalPhrase maps a configured phrase through the synonym table.
// resolveSynonyms follows chains so that a group whose canonical term is
// itself a member of another group maps onto that group's canonical.
func (l *Lexicon) resolveSynonyms() error {
	keys := make([]string, 0, len(l.synonyms))
	for k := range l.synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make(map[string]string, len(keys))
	for _, key := range keys {
		canon := l.synonyms[key]
		seen := map[string]bool{key: true}
		for {
			next, ok := l.synonyms[canon]
			if !ok || next == canon {
				break
			}
			if seen[canon] {
				return fmt.Errorf("synonym groups form a cycle through %q", canon)
			}
			seen[canon] = true
			canon = next
		}
		resolved[key] = canon
	}
	l.synonyms = resolved
	return nil
}

func (l *Lexicon) canonicalPhrase(s string) string {
	key := strings.Join(baseTokens(s), " ")
	if canon, ok := l.synonyms[key]; ok {
		return canon
	}
	return key
}

// Config returns the configuration the lexicon was compiled from.
func (l *Lexicon) Config() Config {
	return l.cfg
}

// Merge returns a lexicon compiled from the defaults plus extra.
func Merge(extra Config) (*Lexicon, error) {
	base := DefaultConfig()
	base.Synonyms = mergeSynonyms(base.Synonyms, extra.Synonyms)
	base.Dimensions = mergeDimensions(base.Dimensions, extra.Dimensions)
	base.Costs = mergeCosts(base.Costs, extra.Costs)
	for cat, words := range extra.CategoryKeywords {
		base.CategoryKeywords[cat] = append(base.CategoryKeywords[cat], words...)
	}
	base.Neutral = append(base.Neutral, extra.Neutral...)
	return New(base)
}

func mergeSynonyms(base, extra []SynonymGroup) []SynonymGroup {
	idx := make(map[string]int)
	for i, g := range base {
		idx[g.Canonical] = i
	}
	for _, g := range extra {
		if i, ok := idx[g.Canonical]; ok {
			base[i].Terms = append(base[i].Terms, g.Terms...)
			continue
		}
		idx[g.Canonical] = len(base)
		base = append(base, g)
	}
	return base
}

func mergeDimensions(base, extra []Dimension) []Dimension {
	idx := make(map[string]int)
	for i, d := range base {
		idx[d.Name] = i
	}
	for _, d := range extra {
		if i, ok := idx[d.Name]; ok {
			base[i].Values = append(base[i].Values, d.Values...)
			continue
		}
		idx[d.Name] = len(base)
		base = append(base, d)
	}
	return base
}

func mergeCosts(base, extra []CostEntry) []CostEntry {
	idx := make(map[string]int)
	for i, c := range base {
		idx[c.Item] = i
	}
	for _, c := range extra {
		if i, ok := idx[c.Item]; ok {
			base[i] = c
			continue
		}
		idx[c.Item] = len(base)
		base = append(base, c)
	}
	return base
}

// LoadConfig reads a lexicon extension from a TOML or YAML file, chosen by
// extension.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read lexicon: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode lexicon toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode lexicon yaml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported lexicon format %q", filepath.Ext(path))
	}
	return cfg, nil
}

// CostMatch is a catalog entry found in a piece of text.
type CostMatch struct {
	Entry   CostEntry
	Keyword string
}

// Costs returns the catalog entries asserted (not negated) in text.
func (l *Lexicon) Costs(text string) []CostMatch {
	a := l.Analyze(text)
	var out []CostMatch
	for i, entry := range l.costs {
		for _, kw := range l.costTerms[i] {
			if a.asserted[kw] {
				out = append(out, CostMatch{Entry: entry, Keyword: kw})
				break
			}
		}
	}
	return out
}

// Alternatives returns catalog entries in the same group as entry whose
// minimum fits under ceiling, cheapest first.
func (l *Lexicon) Alternatives(entry CostEntry, ceiling float64) []CostEntry {
	var out []CostEntry
	for _, c := range l.costs {
		if c.Item == entry.Item || c.Group != entry.Group {
			continue
		}
		if c.Min <= ceiling {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return out
}

// CategoryScores counts category keyword and dimension hits in text.
func (l *Lexicon) CategoryScores(text string) map[constraint.Category]int {
	a := l.Analyze(text)
	scores := make(map[constraint.Category]int)
	for _, term := range a.Terms {
		for cat, words := range l.catWords {
			if words[term.Text] {
				scores[cat]++
			}
		}
		if ref, ok := l.values[term.Text]; ok {
			if cat := l.dimCat[ref.dim]; cat != "" {
				scores[cat] += 2
			}
		}
	}
	return scores
}
