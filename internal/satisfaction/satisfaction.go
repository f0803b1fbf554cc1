// Package satisfaction classifies, for one participant and one proposal,
// which of the participant's constraints are satisfied, violated or left
// ambiguous, and derives the participant's confidence tier.
//
// Classification is a pure function of its inputs. It never consults a
// generator or narrator.
package satisfaction

import (
	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/proposal"
)

// Outcome is the verdict on a single constraint.
type Outcome string

const (
	Satisfied Outcome = "satisfied"
	Violated  Outcome = "violated"
	Ambiguous Outcome = "ambiguous"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// IsValid reports whether the outcome is known.
func (o Outcome) IsValid() bool {
	switch o {
	case Satisfied, Violated, Ambiguous:
		return true
	}
	return false
}

// Confidence is the participant's overall tier for a proposal.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// String returns the string representation of the confidence tier.
func (c Confidence) String() string {
	return string(c)
}

// IsValid reports whether the tier is known.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Matcher decides how constraint text relates to proposal text.
// *lexicon.Lexicon implements it.
type Matcher interface {
	// Covers reports whether an addressed-list item names the constraint.
	Covers(item, text string) bool
	// Contradicts reports whether the offer rules the requirement out.
	Contradicts(requirement, offer string) (bool, string)
	// Affirms reports whether the offer positively confirms the requirement.
	Affirms(requirement, offer string) (bool, string)
}

// Pricer is an optional Matcher extension that prices items named in text.
type Pricer interface {
	Costs(text string) []lexicon.CostMatch
}

// Assessment is the verdict on one tag with the evidence behind it.
type Assessment struct {
	Tag      constraint.Tag `json:"tag" yaml:"tag"`
	Outcome  Outcome        `json:"outcome" yaml:"outcome"`
	Evidence string         `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// View is one participant's reading of one proposal.
type View struct {
	Participant             constraint.ParticipantID `json:"participant" yaml:"participant"`
	Confidence              Confidence               `json:"confidence" yaml:"confidence"`
	SatisfiedNonNegotiables []string                 `json:"satisfied_non_negotiables,omitempty" yaml:"satisfied_non_negotiables,omitempty"`
	ViolatedNonNegotiables  []string                 `json:"violated_non_negotiables,omitempty" yaml:"violated_non_negotiables,omitempty"`
	// AmbiguousNonNegotiables count as not satisfied.
	AmbiguousNonNegotiables []string     `json:"ambiguous_non_negotiables,omitempty" yaml:"ambiguous_non_negotiables,omitempty"`
	UnmetMustHaves          []string     `json:"unmet_must_haves,omitempty" yaml:"unmet_must_haves,omitempty"`
	UnmetStrongPreferences  []string     `json:"unmet_strong_preferences,omitempty" yaml:"unmet_strong_preferences,omitempty"`
	Assessments             []Assessment `json:"assessments" yaml:"assessments"`
}

// NonNegotiablesSatisfied reports whether every non-negotiable was
// positively satisfied.
func (v View) NonNegotiablesSatisfied() bool {
	return len(v.ViolatedNonNegotiables) == 0 && len(v.AmbiguousNonNegotiables) == 0
}

// Unsatisfied returns the assessments of non-negotiables that were not
// satisfied, violated first.
func (v View) Unsatisfied() []Assessment {
	var violated, ambiguous []Assessment
	for _, a := range v.Assessments {
		if !a.Tag.IsNonNegotiable() {
			continue
		}
		switch a.Outcome {
		case Violated:
			violated = append(violated, a)
		case Ambiguous:
			ambiguous = append(ambiguous, a)
		}
	}
	return append(violated, ambiguous...)
}

// Classify assesses every tag owned by participant against the proposal.
// Tags owned by anyone else are ignored.
func Classify(participant constraint.ParticipantID, tags []constraint.Tag, p proposal.Proposal, m Matcher) View {
	if m == nil {
		m = lexicon.Default()
	}
	view := View{Participant: participant}
	for _, tag := range tags {
		if tag.Owner != participant {
			continue
		}
		a := Assess(tag, p, m)
		view.Assessments = append(view.Assessments, a)

		switch {
		case tag.IsNonNegotiable():
			switch a.Outcome {
			case Satisfied:
				view.SatisfiedNonNegotiables = append(view.SatisfiedNonNegotiables, tag.Text)
			case Violated:
				view.ViolatedNonNegotiables = append(view.ViolatedNonNegotiables, tag.Text)
			default:
				view.AmbiguousNonNegotiables = append(view.AmbiguousNonNegotiables, tag.Text)
			}
		case tag.IsMustHave():
			if a.Outcome != Satisfied {
				view.UnmetMustHaves = append(view.UnmetMustHaves, tag.Text)
			}
		case tag.IsStrong():
			if a.Outcome != Satisfied {
				view.UnmetStrongPreferences = append(view.UnmetStrongPreferences, tag.Text)
			}
		}
	}
	view.Confidence = tier(view)
	return view
}

func tier(v View) Confidence {
	switch {
	case !v.NonNegotiablesSatisfied():
		return ConfidenceLow
	case len(v.UnmetMustHaves) > 0 || len(v.UnmetStrongPreferences) > 0:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// Assess applies the precedence rules to one tag: an addressed-list match
// satisfies; otherwise a contradiction violates; otherwise an explicit
// confirmation satisfies; anything else is ambiguous.
func Assess(tag constraint.Tag, p proposal.Proposal, m Matcher) Assessment {
	if m == nil {
		m = lexicon.Default()
	}
	for _, item := range p.Addressed() {
		if m.Covers(item, tag.Text) {
			return Assessment{Tag: tag, Outcome: Satisfied, Evidence: "addressed: " + item}
		}
	}

	if bad, reason := m.Contradicts(tag.Text, p.Content); bad {
		return Assessment{Tag: tag, Outcome: Violated, Evidence: reason}
	}
	var pricer Pricer
	if pr, ok := m.(Pricer); ok {
		pricer = pr
	}
	check := CheckBounds(tag.Text, p.Content, pricer)
	if check.Violated {
		return Assessment{Tag: tag, Outcome: Violated, Evidence: check.Evidence}
	}

	if ok, evidence := m.Affirms(tag.Text, p.Content); ok {
		return Assessment{Tag: tag, Outcome: Satisfied, Evidence: evidence}
	}
	if check.Affirmed {
		return Assessment{Tag: tag, Outcome: Satisfied, Evidence: check.Evidence}
	}
	return Assessment{Tag: tag, Outcome: Ambiguous, Evidence: "no explicit confirmation in the proposal"}
}
