// Package proposal holds the records exchanged with the proposal
// generator: proposals, tensions and advisory narrations.
package proposal

import (
	"strings"
)

// Proposal is one candidate answer to a decision question. Content and
// Rationale are opaque text produced by a generator.
type Proposal struct {
	Question          string   `json:"question" yaml:"question"`
	Content           string   `json:"content" yaml:"content"`
	Rationale         string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	AddressedConcerns []string `json:"addressed_concerns,omitempty" yaml:"addressed_concerns,omitempty"`
	AddressedDesires  []string `json:"addressed_desires,omitempty" yaml:"addressed_desires,omitempty"`
}

// Addressed returns the concerns followed by the desires the proposal
// claims to satisfy.
func (p Proposal) Addressed() []string {
	out := make([]string, 0, len(p.AddressedConcerns)+len(p.AddressedDesires))
	out = append(out, p.AddressedConcerns...)
	return append(out, p.AddressedDesires...)
}

// IsEmpty reports whether the proposal carries no content.
func (p Proposal) IsEmpty() bool {
	return strings.TrimSpace(p.Content) == ""
}

// Tension records that a set of constraints cannot currently be satisfied
// together.
type Tension struct {
	Description         string   `json:"description" yaml:"description"`
	ConstraintsInvolved []string `json:"constraints_involved" yaml:"constraints_involved"`
	PossibleResolutions []string `json:"possible_resolutions,omitempty" yaml:"possible_resolutions,omitempty"`
}

// Involves reports whether text is one of the constraints in the tension.
func (t Tension) Involves(text string) bool {
	for _, c := range t.ConstraintsInvolved {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(text)) {
			return true
		}
	}
	return false
}

// Narration is the display-only summary a narrator writes for one
// participant. Its Confidence is advisory.
type Narration struct {
	Confidence string   `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Highlights []string `json:"highlights,omitempty" yaml:"highlights,omitempty"`
	Concerns   []string `json:"concerns,omitempty" yaml:"concerns,omitempty"`
}

// Combine folds the proposals of one round into the single plan a
// participant is asked to evaluate. Addressed lists are de-duplicated in
// first-seen order.
func Combine(proposals []Proposal) Proposal {
	if len(proposals) == 1 {
		return proposals[0]
	}
	var (
		questions  []string
		contents   []string
		rationales []string
		out        Proposal
	)
	seenC := make(map[string]bool)
	seenD := make(map[string]bool)
	for _, p := range proposals {
		if p.Question != "" {
			questions = append(questions, p.Question)
		}
		if c := strings.TrimSpace(p.Content); c != "" {
			contents = append(contents, strings.TrimRight(c, ". "))
		}
		if r := strings.TrimSpace(p.Rationale); r != "" {
			rationales = append(rationales, strings.TrimRight(r, ". "))
		}
		for _, c := range p.AddressedConcerns {
			if !seenC[c] {
				seenC[c] = true
				out.AddressedConcerns = append(out.AddressedConcerns, c)
			}
		}
		for _, d := range p.AddressedDesires {
			if !seenD[d] {
				seenD[d] = true
				out.AddressedDesires = append(out.AddressedDesires, d)
			}
		}
	}
	out.Question = strings.Join(questions, "; ")
	if len(contents) > 0 {
		out.Content = strings.Join(contents, ". ") + "."
	}
	if len(rationales) > 0 {
		out.Rationale = strings.Join(rationales, ". ") + "."
	}
	return out
}
