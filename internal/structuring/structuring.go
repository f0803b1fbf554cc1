// Package structuring turns the current constraint set into decision
// questions: one per category, with the competing positions participants
// hold, whether those positions conflict, which categories constrain one
// another, and which constraints nobody contests.
package structuring

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Dicklesworthstone/accord/internal/bounds"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
)

// ErrInvariantViolation marks a structuring result that breaks the
// question invariants. It indicates a defect, never bad input.
var ErrInvariantViolation = errors.New("structuring invariant violated")

// ConflictKind distinguishes why a question is contested.
type ConflictKind string

const (
	// ConflictValue is a direct semantic contradiction between positions.
	ConflictValue ConflictKind = "value"
	// ConflictFeasibility is a numeric or temporal impossibility derived
	// from stated bounds.
	ConflictFeasibility ConflictKind = "feasibility"
)

// Position is one distinct view on a question with the participants who
// hold it.
type Position struct {
	View    string                     `json:"view" yaml:"view"`
	Weight  int                        `json:"weight" yaml:"weight"`
	Holders []constraint.ParticipantID `json:"holders" yaml:"holders"`
	TagIDs  []string                   `json:"tag_ids,omitempty" yaml:"tag_ids,omitempty"`
	// Strongest is the priority of the strongest tag behind the view.
	Strongest string `json:"strongest,omitempty" yaml:"strongest,omitempty"`
}

// Conflict explains one reason a question is contested.
type Conflict struct {
	Kind        ConflictKind `json:"kind" yaml:"kind"`
	Description string       `json:"description" yaml:"description"`
	Tags        []string     `json:"tags" yaml:"tags"`
	// Hard is set when every side of a value conflict is top tier, so no
	// proposal can satisfy all of them.
	Hard bool `json:"hard,omitempty" yaml:"hard,omitempty"`
}

// Question is a decision to be made in one category. When HasConflict is
// set Positions is non-empty and ConsensusView is empty; otherwise the
// reverse holds.
type Question struct {
	Category      constraint.Category `json:"category" yaml:"category"`
	HasConflict   bool                `json:"has_conflict" yaml:"has_conflict"`
	Positions     []Position          `json:"positions,omitempty" yaml:"positions,omitempty"`
	ConsensusView string              `json:"consensus_view,omitempty" yaml:"consensus_view,omitempty"`
	Conflicts     []Conflict          `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// HardConflicts returns the value conflicts no proposal can resolve.
func (q Question) HardConflicts() []Conflict {
	var out []Conflict
	for _, c := range q.Conflicts {
		if c.Kind == ConflictValue && c.Hard {
			out = append(out, c)
		}
	}
	return out
}

// Coupling records that a commitment in one category narrows the feasible
// answers in another.
type Coupling struct {
	Categories []constraint.Category `json:"categories" yaml:"categories"`
	Nature     string                `json:"nature" yaml:"nature"`
	Tags       []string              `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Key identifies the unordered category set.
func (c Coupling) Key() string {
	parts := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		parts[i] = string(cat)
	}
	return strings.Join(parts, "+")
}

// ConsensusItem is a constraint no participant contests.
type ConsensusItem struct {
	Text     string                     `json:"text" yaml:"text"`
	Category constraint.Category        `json:"category" yaml:"category"`
	Weight   int                        `json:"weight" yaml:"weight"`
	Holders  []constraint.ParticipantID `json:"holders" yaml:"holders"`
	TagIDs   []string                   `json:"tag_ids,omitempty" yaml:"tag_ids,omitempty"`
	Priority string                     `json:"priority" yaml:"priority"`
}

// Result is the structured decision space for one round.
type Result struct {
	Questions      []Question      `json:"questions" yaml:"questions"`
	Couplings      []Coupling      `json:"couplings,omitempty" yaml:"couplings,omitempty"`
	ConsensusItems []ConsensusItem `json:"consensus_items,omitempty" yaml:"consensus_items,omitempty"`
	Warnings       []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	// Assigned maps each structured tag ID to its category.
	Assigned map[string]constraint.Category `json:"assigned,omitempty" yaml:"assigned,omitempty"`
}

// Question returns the question for a category.
func (r Result) Question(cat constraint.Category) (Question, bool) {
	for _, q := range r.Questions {
		if q.Category == cat {
			return q, true
		}
	}
	return Question{}, false
}

// Contested returns the questions with conflicts.
func (r Result) Contested() []Question {
	var out []Question
	for _, q := range r.Questions {
		if q.HasConflict {
			out = append(out, q)
		}
	}
	return out
}

// Validate checks the question invariants against the number of
// participants in the run.
func (r Result) Validate(participantCount int) error {
	for _, q := range r.Questions {
		if q.HasConflict {
			if len(q.Positions) == 0 {
				return fmt.Errorf("%w: %s question is contested but has no positions", ErrInvariantViolation, q.Category)
			}
			if q.ConsensusView != "" {
				return fmt.Errorf("%w: %s question has both positions and a consensus view", ErrInvariantViolation, q.Category)
			}
		} else {
			if len(q.Positions) > 0 {
				return fmt.Errorf("%w: %s question is uncontested but lists positions", ErrInvariantViolation, q.Category)
			}
			if q.ConsensusView == "" {
				return fmt.Errorf("%w: %s question has neither positions nor a consensus view", ErrInvariantViolation, q.Category)
			}
		}
		total := 0
		seen := make(map[constraint.ParticipantID]bool)
		for _, p := range q.Positions {
			total += p.Weight
			for _, h := range p.Holders {
				if seen[h] {
					return fmt.Errorf("%w: %s holds more than one %s position", ErrInvariantViolation, h, q.Category)
				}
				seen[h] = true
			}
		}
		if total > participantCount {
			return fmt.Errorf("%w: %s position weights sum to %d with %d participants", ErrInvariantViolation, q.Category, total, participantCount)
		}
	}
	return nil
}

// Options tune a structuring pass.
type Options struct {
	// Lexicon is the matcher for categories, synonyms and contradictions.
	// Nil uses lexicon.Default().
	Lexicon *lexicon.Lexicon
	// Commitments are plan elements already on the table (for example the
	// activity a previous round proposed) whose bounds take part in
	// feasibility checks.
	Commitments []string
	Logger      *slog.Logger
}

func (o Options) lexicon() *lexicon.Lexicon {
	if o.Lexicon != nil {
		return o.Lexicon
	}
	return lexicon.Default()
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// tagInfo caches per-tag analysis for one pass.
type tagInfo struct {
	tag    constraint.Tag
	cat    constraint.Category
	limits bounds.Bounds
	costs  []lexicon.CostMatch
}

// Structure builds the decision questions for the given tags. It never
// fails: invalid tags are skipped with a warning and an empty tag set
// yields an empty result.
func Structure(tags []constraint.Tag, opts Options) Result {
	lex := opts.lexicon()
	log := opts.logger()
	res := Result{Assigned: make(map[string]constraint.Category)}

	var infos []tagInfo
	for _, tag := range tags {
		if err := tag.Validate(); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("skipped tag %q: %v", tag.Text, err))
			log.Warn("structuring skipped tag", "tag", tag.ID, "participant", tag.Owner, "error", err)
			continue
		}
		cat, warn := Categorize(tag, lex)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		key := tag.ID
		if key == "" {
			key = tag.Text
		}
		res.Assigned[key] = cat
		infos = append(infos, tagInfo{
			tag:    tag,
			cat:    cat,
			limits: bounds.ExtractLimits(tag.Text),
			costs:  lex.Costs(tag.Text),
		})
	}
	if len(infos) == 0 {
		return res
	}

	commitments := analyzeCommitments(opts.Commitments, lex)
	contested := make(map[string]bool)

	byCat := make(map[constraint.Category][]tagInfo)
	for _, info := range infos {
		byCat[info.cat] = append(byCat[info.cat], info)
	}

	feasible := checkFeasibility(infos, commitments)

	for _, cat := range constraint.AllCategories() {
		group := byCat[cat]
		extra := feasible[cat]
		if len(group) == 0 && len(extra.conflicts) == 0 {
			continue
		}
		if len(group) == 0 {
			group = extra.tags
		}
		positions := buildPositions(group, lex)
		conflicts := valueConflicts(positions, group, lex)
		conflicts = append(conflicts, extra.conflicts...)

		q := Question{Category: cat, Conflicts: conflicts}
		if len(conflicts) > 0 {
			q.HasConflict = true
			q.Positions = positions
			for _, c := range conflicts {
				for _, id := range c.Tags {
					contested[id] = true
				}
			}
		} else {
			q.ConsensusView = consensusView(positions)
		}
		res.Questions = append(res.Questions, q)
	}

	res.Couplings = findCouplings(infos, commitments)
	res.ConsensusItems = consensusItems(infos, contested, lex)

	log.Debug("structured constraints",
		"tags", len(infos),
		"questions", len(res.Questions),
		"contested", len(res.Contested()),
		"couplings", len(res.Couplings),
	)
	return res
}

func tagKey(t constraint.Tag) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Text
}

// buildPositions gives every participant one position per category and
// merges participants whose views read the same.
func buildPositions(group []tagInfo, lex *lexicon.Lexicon) []Position {
	byOwner := make(map[constraint.ParticipantID][]tagInfo)
	var owners []constraint.ParticipantID
	for _, info := range group {
		if _, ok := byOwner[info.tag.Owner]; !ok {
			owners = append(owners, info.tag.Owner)
		}
		byOwner[info.tag.Owner] = append(byOwner[info.tag.Owner], info)
	}

	index := make(map[string]int)
	var positions []Position
	for _, owner := range owners {
		own := byOwner[owner]
		var texts, canon, ids []string
		strongest := own[0].tag
		for _, info := range own {
			texts = append(texts, info.tag.Text)
			canon = append(canon, lex.Canonical(info.tag.Text))
			ids = append(ids, tagKey(info.tag))
			strongest = constraint.Stronger(strongest, info.tag)
		}
		sort.Strings(canon)
		key := strings.Join(canon, " & ")
		if i, ok := index[key]; ok {
			positions[i].Holders = append(positions[i].Holders, owner)
			positions[i].Weight++
			positions[i].TagIDs = append(positions[i].TagIDs, ids...)
			continue
		}
		index[key] = len(positions)
		positions = append(positions, Position{
			View:      strings.Join(texts, "; "),
			Weight:    1,
			Holders:   []constraint.ParticipantID{owner},
			TagIDs:    ids,
			Strongest: strongest.Priority(),
		})
	}
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].Weight > positions[j].Weight })
	return positions
}

// contests reports whether a contradiction between a and b is a real
// conflict: at least one side must not be strictly weaker than the other.
func contests(a, b constraint.Tag) bool {
	if a.IsTopTier() || b.IsTopTier() {
		return true
	}
	if a.Kind == b.Kind {
		return !a.StrictlyWeaker(b) && !b.StrictlyWeaker(a)
	}
	return a.IsStrong() && b.IsStrong()
}

func valueConflicts(positions []Position, group []tagInfo, lex *lexicon.Lexicon) []Conflict {
	if len(positions) < 2 {
		return nil
	}
	byID := make(map[string]constraint.Tag, len(group))
	for _, info := range group {
		byID[tagKey(info.tag)] = info.tag
	}
	var out []Conflict
	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			for _, ida := range positions[i].TagIDs {
				for _, idb := range positions[j].TagIDs {
					a, b := byID[ida], byID[idb]
					if a.Owner == b.Owner {
						continue
					}
					bad, reason := lex.Conflicts(a.Text, b.Text)
					if !bad || !contests(a, b) {
						continue
					}
					out = append(out, Conflict{
						Kind:        ConflictValue,
						Description: fmt.Sprintf("%q (%s) vs %q (%s): %s", a.Text, a.Owner, b.Text, b.Owner, reason),
						Tags:        []string{ida, idb},
						Hard:        a.IsTopTier() && b.IsTopTier(),
					})
				}
			}
		}
	}
	return out
}

func consensusView(positions []Position) string {
	views := make([]string, 0, len(positions))
	for _, p := range positions {
		views = append(views, p.View)
	}
	return strings.Join(views, "; ")
}

func consensusItems(infos []tagInfo, contested map[string]bool, lex *lexicon.Lexicon) []ConsensusItem {
	index := make(map[string]int)
	var out []ConsensusItem
	strongest := make(map[int]constraint.Tag)
	for _, info := range infos {
		id := tagKey(info.tag)
		if contested[id] {
			continue
		}
		key := string(info.cat) + "|" + lex.Canonical(info.tag.Text)
		if i, ok := index[key]; ok {
			item := &out[i]
			item.TagIDs = append(item.TagIDs, id)
			if !containsParticipant(item.Holders, info.tag.Owner) {
				item.Holders = append(item.Holders, info.tag.Owner)
				item.Weight++
			}
			strongest[i] = constraint.Stronger(strongest[i], info.tag)
			item.Priority = strongest[i].Priority()
			continue
		}
		index[key] = len(out)
		strongest[len(out)] = info.tag
		out = append(out, ConsensusItem{
			Text:     info.tag.Text,
			Category: info.cat,
			Weight:   1,
			Holders:  []constraint.ParticipantID{info.tag.Owner},
			TagIDs:   []string{id},
			Priority: info.tag.Priority(),
		})
	}
	return out
}

func containsParticipant(list []constraint.ParticipantID, p constraint.ParticipantID) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}
