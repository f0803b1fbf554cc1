package constraint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownTag is returned when a ledger operation names a tag it never saw.
	ErrUnknownTag = errors.New("unknown constraint tag")
	// ErrDuplicateTag is returned when a tag ID is added twice.
	ErrDuplicateTag = errors.New("duplicate constraint tag")
	// ErrAlreadySuperseded is returned when a retired tag is superseded again.
	ErrAlreadySuperseded = errors.New("constraint tag already superseded")
)

// Supersession records that a tag stopped being current. By is empty when
// the tag was retired without a replacement.
type Supersession struct {
	TagID string `json:"tag_id" yaml:"tag_id"`
	By    string `json:"by,omitempty" yaml:"by,omitempty"`
	Round int    `json:"round" yaml:"round"`
}

// Ledger is the append-only history of every tag in a run.
type Ledger struct {
	mu         sync.RWMutex
	tags       []Tag
	index      map[string]int
	superseded map[string]Supersession
	order      []string
	seq        map[ParticipantID]int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index:      make(map[string]int),
		superseded: make(map[string]Supersession),
		seq:        make(map[ParticipantID]int),
	}
}

// Add validates and appends a tag. Tags without an ID get a stable
// owner-scoped one.
func (l *Ledger) Add(tag Tag) (Tag, error) {
	if l == nil {
		return Tag{}, errors.New("ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(tag)
}

func (l *Ledger) addLocked(tag Tag) (Tag, error) {
	if err := tag.Validate(); err != nil {
		return Tag{}, err
	}
	if tag.ID == "" {
		for {
			l.seq[tag.Owner]++
			tag.ID = fmt.Sprintf("%s-%d", tag.Owner, l.seq[tag.Owner])
			if _, taken := l.index[tag.ID]; !taken {
				break
			}
		}
	}
	if _, exists := l.index[tag.ID]; exists {
		return Tag{}, fmt.Errorf("%w: %s", ErrDuplicateTag, tag.ID)
	}
	l.index[tag.ID] = len(l.tags)
	l.tags = append(l.tags, tag)
	return tag, nil
}

// Supersede appends replacement and marks oldID as superseded by it.
func (l *Ledger) Supersede(oldID string, replacement Tag, round int) (Tag, error) {
	if l == nil {
		return Tag{}, errors.New("ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.index[oldID]
	if !ok {
		return Tag{}, fmt.Errorf("%w: %s", ErrUnknownTag, oldID)
	}
	if _, done := l.superseded[oldID]; done {
		return Tag{}, fmt.Errorf("%w: %s", ErrAlreadySuperseded, oldID)
	}
	if replacement.Owner == "" {
		replacement.Owner = l.tags[old].Owner
	}
	if replacement.Round == 0 {
		replacement.Round = round
	}
	added, err := l.addLocked(replacement)
	if err != nil {
		return Tag{}, fmt.Errorf("supersede %s: %w", oldID, err)
	}
	l.markLocked(Supersession{TagID: oldID, By: added.ID, Round: round})
	return added, nil
}

// Retire marks a tag as no longer current without a replacement.
func (l *Ledger) Retire(id string, round int) error {
	if l == nil {
		return errors.New("ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, id)
	}
	if _, done := l.superseded[id]; done {
		return fmt.Errorf("%w: %s", ErrAlreadySuperseded, id)
	}
	l.markLocked(Supersession{TagID: id, Round: round})
	return nil
}

func (l *Ledger) markLocked(s Supersession) {
	l.superseded[s.TagID] = s
	l.order = append(l.order, s.TagID)
}

// ReconcileResult summarizes how a re-extracted tag set was folded in.
type ReconcileResult struct {
	Added      []Tag          `json:"added,omitempty"`
	Regraded   []Supersession `json:"regraded,omitempty"`
	Retired    []string       `json:"retired,omitempty"`
	Unchanged  int            `json:"unchanged"`
	Quarantine []Quarantined  `json:"quarantine,omitempty"`
}

// Changed reports whether reconciliation altered the current set.
func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Regraded) > 0 || len(r.Retired) > 0
}

// Reconcile folds a participant's refreshed tag set into the ledger. Tags
// are matched by normalized text: matching text with a different grade is
// superseded, new text is added, and current text missing from updated is
// retired. Invalid tags in updated are quarantined and the matching current
// tag is left untouched.
func (l *Ledger) Reconcile(owner ParticipantID, updated []Tag, round int) (ReconcileResult, error) {
	var res ReconcileResult
	if l == nil {
		return res, errors.New("ledger is nil")
	}

	current := make(map[string]Tag)
	for _, t := range l.CurrentFor(owner) {
		current[textKey(t.Text)] = t
	}

	seen := make(map[string]bool)
	for _, t := range updated {
		t.Owner = owner
		t.ID = ""
		if t.Round == 0 {
			t.Round = round
		}
		key := textKey(t.Text)
		if err := t.Validate(); err != nil {
			res.Quarantine = append(res.Quarantine, Quarantined{
				Owner:  owner,
				Raw:    RawTag{Text: t.Text, Kind: string(t.Kind), Priority: t.Priority(), Category: string(t.Category), Flexibility: t.Flexibility},
				Reason: err.Error(),
			})
			seen[key] = true
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		prev, ok := current[key]
		if !ok {
			added, err := l.Add(t)
			if err != nil {
				return res, fmt.Errorf("reconcile %s: %w", owner, err)
			}
			res.Added = append(res.Added, added)
			continue
		}
		if sameGrade(prev, t) {
			res.Unchanged++
			continue
		}
		added, err := l.Supersede(prev.ID, t, round)
		if err != nil {
			return res, fmt.Errorf("reconcile %s: %w", owner, err)
		}
		res.Regraded = append(res.Regraded, Supersession{TagID: prev.ID, By: added.ID, Round: round})
	}

	keys := make([]string, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if seen[key] {
			continue
		}
		id := current[key].ID
		if err := l.Retire(id, round); err != nil {
			return res, fmt.Errorf("reconcile %s: %w", owner, err)
		}
		res.Retired = append(res.Retired, id)
	}
	return res, nil
}

func textKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func sameGrade(a, b Tag) bool {
	return a.Kind == b.Kind &&
		a.Severity == b.Severity &&
		a.Intensity == b.Intensity &&
		a.Category == b.Category &&
		a.Flexibility == b.Flexibility
}

// Current returns every tag not yet superseded or retired, in insertion order.
func (l *Ledger) Current() []Tag {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Tag, 0, len(l.tags))
	for _, t := range l.tags {
		if _, gone := l.superseded[t.ID]; !gone {
			out = append(out, t)
		}
	}
	return out
}

// CurrentFor returns the current tags owned by one participant.
func (l *Ledger) CurrentFor(owner ParticipantID) []Tag {
	var out []Tag
	for _, t := range l.Current() {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out
}

// All returns every tag ever added, including superseded ones.
func (l *Ledger) All() []Tag {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Tag(nil), l.tags...)
}

// Get returns a tag by ID regardless of whether it is current.
func (l *Ledger) Get(id string) (Tag, bool) {
	if l == nil {
		return Tag{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Tag{}, false
	}
	return l.tags[i], true
}

// IsCurrent reports whether a tag is still in force.
func (l *Ledger) IsCurrent(id string) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	_, gone := l.superseded[id]
	return ok && !gone
}

// Supersessions returns every supersession in the order it happened.
func (l *Ledger) Supersessions() []Supersession {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Supersession, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.superseded[id])
	}
	return out
}

// Lineage walks supersessions forward from id and returns the chain of tag
// IDs ending at the tag currently in force (or the last retired one).
func (l *Ledger) Lineage(id string) []string {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.index[id]; !ok {
		return nil
	}
	chain := []string{id}
	for {
		s, ok := l.superseded[chain[len(chain)-1]]
		if !ok || s.By == "" {
			return chain
		}
		chain = append(chain, s.By)
	}
}

// Participants returns the sorted owners that currently hold at least one tag.
func (l *Ledger) Participants() []ParticipantID {
	seen := make(map[ParticipantID]bool)
	var out []ParticipantID
	for _, t := range l.Current() {
		if !seen[t.Owner] {
			seen[t.Owner] = true
			out = append(out, t.Owner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GroupByOwner splits tags by owner, preserving order within each owner.
func GroupByOwner(tags []Tag) map[ParticipantID][]Tag {
	out := make(map[ParticipantID][]Tag)
	for _, t := range tags {
		out[t.Owner] = append(out[t.Owner], t)
	}
	return out
}

// Texts returns the text of each tag.
func Texts(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Text)
	}
	return out
}
