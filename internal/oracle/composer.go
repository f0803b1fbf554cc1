package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dicklesworthstone/accord/internal/bounds"
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// Composer is a deterministic Generator that assembles proposals from the
// constraint texts themselves. For each contested question it picks one
// position, rotating through them round by round, and it reports every
// conflict and every item priced above a top-tier budget as a tension
// instead of proposing it.
type Composer struct {
	Lexicon *lexicon.Lexicon
	Logger  *slog.Logger
}

// NewComposer returns a Composer using lex, or the default lexicon.
func NewComposer(lex *lexicon.Lexicon) *Composer {
	return &Composer{Lexicon: lex}
}

func (c *Composer) lexicon() *lexicon.Lexicon {
	if c != nil && c.Lexicon != nil {
		return c.Lexicon
	}
	return lexicon.Default()
}

type ceilingRef struct {
	val float64
	tag constraint.Tag
	ok  bool
}

func topTierCeiling(tags []constraint.Tag) ceilingRef {
	var out ceilingRef
	for _, t := range tags {
		if !t.IsTopTier() {
			continue
		}
		if v, ok := bounds.ExtractLimits(t.Text).Ceiling(); ok && (!out.ok || v < out.val) {
			out = ceilingRef{val: v, tag: t, ok: true}
		}
	}
	return out
}

func key(t constraint.Tag) string {
	if t.ID != "" {
		return t.ID
	}
	return t.Text
}

// Generate implements Generator.
func (c *Composer) Generate(ctx context.Context, req Request) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	lex := c.lexicon()
	byKey := make(map[string]constraint.Tag, len(req.Constraints))
	for _, t := range req.Constraints {
		byKey[key(t)] = t
	}
	lookup := func(ids []string) []constraint.Tag {
		var out []constraint.Tag
		for _, id := range ids {
			if t, ok := byKey[id]; ok {
				out = append(out, t)
			}
		}
		return out
	}
	ceiling := topTierCeiling(req.Constraints)

	var gen Generation
	inTension := make(map[string]bool)
	addTension := func(t proposal.Tension) {
		for _, c := range t.ConstraintsInvolved {
			inTension[c] = true
		}
		gen.Tensions = append(gen.Tensions, t)
	}

	for _, q := range req.Structure.Questions {
		for _, conflict := range q.Conflicts {
			involved := lookup(conflict.Tags)
			addTension(proposal.Tension{
				Description:         conflict.Description,
				ConstraintsInvolved: constraint.Texts(involved),
				PossibleResolutions: conflictResolutions(q, conflict, involved, lex),
			})
		}
	}

	for _, q := range req.Structure.Questions {
		chosen, rationale := c.choose(q, req, lookup)
		var included []constraint.Tag
		for _, t := range chosen {
			if entry, over := pricedOut(t, ceiling, lex); over {
				if !inTension[t.Text] {
					addTension(proposal.Tension{
						Description: fmt.Sprintf("%s typically costs %s, above the %s budget",
							entry.Item, entry.Range(), bounds.FormatMoney(ceiling.val)),
						ConstraintsInvolved: []string{t.Text, ceiling.tag.Text},
						PossibleResolutions: Resolutions([]constraint.Tag{ceiling.tag, t}, "", lex),
					})
				}
				rationale += fmt.Sprintf("; left out %q (over budget)", t.Text)
				continue
			}
			included = append(included, t)
		}
		if len(included) == 0 {
			continue
		}
		p := proposal.Proposal{
			Question:  string(q.Category),
			Content:   strings.Join(constraint.Texts(included), "; "),
			Rationale: rationale,
		}
		for _, t := range included {
			if t.Kind == constraint.KindDesire {
				p.AddressedDesires = append(p.AddressedDesires, t.Text)
			} else {
				p.AddressedConcerns = append(p.AddressedConcerns, t.Text)
			}
		}
		gen.Proposals = append(gen.Proposals, p)
	}

	if len(gen.Proposals) > 0 && len(req.Structure.Couplings) > 0 {
		var notes []string
		for _, cp := range req.Structure.Couplings {
			notes = append(notes, cp.Key()+": "+cp.Nature)
		}
		last := &gen.Proposals[len(gen.Proposals)-1]
		last.Rationale += "; coupled decisions: " + strings.Join(notes, " | ")
	}
	return gen, nil
}

// choose picks the tags a question's proposal will carry.
func (c *Composer) choose(q structuring.Question, req Request, lookup func([]string) []constraint.Tag) ([]constraint.Tag, string) {
	var inCategory []constraint.Tag
	for _, t := range req.Constraints {
		if req.Structure.Assigned[key(t)] == q.Category {
			inCategory = append(inCategory, t)
		}
	}
	if !q.HasConflict {
		return inCategory, fmt.Sprintf("uncontested %s: %d constraint(s) combined", q.Category, len(inCategory))
	}

	round := req.Round
	if round < 1 {
		round = 1
	}
	pos := q.Positions[(round-1)%len(q.Positions)]
	chosen := lookup(pos.TagIDs)

	contested := make(map[string]bool)
	for _, cf := range q.Conflicts {
		for _, id := range cf.Tags {
			contested[id] = true
		}
	}
	have := make(map[string]bool)
	for _, t := range chosen {
		have[key(t)] = true
	}
	for _, t := range inCategory {
		if !contested[key(t)] && !have[key(t)] {
			chosen = append(chosen, t)
		}
	}
	holders := make([]string, len(pos.Holders))
	for i, h := range pos.Holders {
		holders[i] = string(h)
	}
	return chosen, fmt.Sprintf("contested %s: following %s (weight %d, option %d of %d)",
		q.Category, strings.Join(holders, ", "), pos.Weight, (round-1)%len(q.Positions)+1, len(q.Positions))
}

func pricedOut(t constraint.Tag, ceiling ceilingRef, lex *lexicon.Lexicon) (lexicon.CostEntry, bool) {
	if !ceiling.ok || key(t) == key(ceiling.tag) {
		return lexicon.CostEntry{}, false
	}
	for _, m := range lex.Costs(t.Text) {
		if m.Entry.Min > ceiling.val {
			return m.Entry, true
		}
	}
	return lexicon.CostEntry{}, false
}

func conflictResolutions(q structuring.Question, cf structuring.Conflict, involved []constraint.Tag, lex *lexicon.Lexicon) []string {
	if cf.Kind == structuring.ConflictFeasibility {
		return Resolutions(involved, "", lex)
	}
	var out []string
	for _, p := range q.Positions {
		holders := make([]string, len(p.Holders))
		for i, h := range p.Holders {
			holders[i] = string(h)
		}
		out = append(out, fmt.Sprintf("adopt %q (held by %s)", p.View, strings.Join(holders, ", ")))
	}
	if cf.Hard {
		out = append(out, "split the group into separate plans")
	} else {
		out = append(out, "let the weaker preference give way")
	}
	return out
}

// Resolutions names concrete tradeoffs that would dissolve a tension
// between tags, given the offer text that triggered it (which may be
// empty).
func Resolutions(tags []constraint.Tag, offer string, lex *lexicon.Lexicon) []string {
	if lex == nil {
		lex = lexicon.Default()
	}
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	priced := append([]string{offer}, constraint.Texts(tags)...)
	pricedText := strings.Join(priced, "; ")

	for _, t := range tags {
		limits := bounds.ExtractLimits(t.Text)
		if ceiling, ok := limits.Ceiling(); ok {
			for _, m := range lex.Costs(pricedText) {
				if m.Entry.Min <= ceiling {
					continue
				}
				add(fmt.Sprintf("raise the budget to at least %s", bounds.FormatMoney(m.Entry.Min)))
				alts := lex.Alternatives(m.Entry, ceiling)
				for i, alt := range alts {
					if i == 2 {
						break
					}
					add(fmt.Sprintf("replace %s with %s (%s)", m.Entry.Item, alt.Item, alt.Range()))
				}
			}
			if _, hi, ok := bounds.Extract(offer).Offered(); ok && hi > ceiling {
				add(fmt.Sprintf("raise the budget to %s", bounds.FormatMoney(hi)))
				add(fmt.Sprintf("find an option under %s", bounds.FormatMoney(ceiling)))
			}
		}
		if limits.HasClock() {
			add(fmt.Sprintf("shorten or reschedule the plan to respect %q", t.Text))
		}
		if t.Text != "" {
			add(fmt.Sprintf("relax %q", t.Text))
		}
	}
	return out
}
