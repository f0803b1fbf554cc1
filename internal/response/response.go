// Package response turns a participant's satisfaction view into a
// response: accept, accept with reservations, object, or opt out.
package response

import (
	"fmt"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
)

// Type is a participant's answer to a round's proposal.
type Type string

const (
	TypeAccept                 Type = "accept"
	TypeAcceptWithReservations Type = "accept-with-reservations"
	TypeObject                 Type = "object"
	TypeOptOut                 Type = "opt-out"
)

// String returns the string representation of the response type.
func (t Type) String() string {
	return string(t)
}

// IsValid reports whether the response type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeAccept, TypeAcceptWithReservations, TypeObject, TypeOptOut:
		return true
	}
	return false
}

// Accepting reports whether the response counts toward acceptance.
func (t Type) Accepting() bool {
	return t == TypeAccept || t == TypeAcceptWithReservations
}

// AllTypes lists the response types in display order.
func AllTypes() []Type {
	return []Type{TypeAccept, TypeAcceptWithReservations, TypeObject, TypeOptOut}
}

// Policy configures the decision.
type Policy struct {
	// FlexibilityThreshold lets a low-confidence participant accept with
	// reservations when every unsatisfied non-negotiable is more flexible
	// than this.
	FlexibilityThreshold float64 `json:"flexibility_threshold" toml:"flexibility_threshold" yaml:"flexibility_threshold"`
	// Patience is the number of consecutive rounds of unimproved
	// non-negotiable violations that turn an objection into an opt-out.
	// Zero disables opting out.
	Patience int `json:"patience" toml:"patience" yaml:"patience"`
}

// DefaultPolicy returns the default decision policy.
func DefaultPolicy() Policy {
	return Policy{FlexibilityThreshold: 0.5, Patience: 2}
}

// Validate checks policy ranges.
func (p Policy) Validate() error {
	if p.FlexibilityThreshold < 0 || p.FlexibilityThreshold > 1 {
		return fmt.Errorf("flexibility threshold %.2f outside [0,1]", p.FlexibilityThreshold)
	}
	if p.Patience < 0 {
		return fmt.Errorf("patience must be >= 0, got %d", p.Patience)
	}
	return nil
}

// Streak tracks consecutive rounds in which a participant's
// non-negotiables stayed unsatisfied without improving.
type Streak struct {
	Rounds      int `json:"rounds" yaml:"rounds"`
	Unsatisfied int `json:"unsatisfied" yaml:"unsatisfied"`
}

// next folds one round's unsatisfied count into the streak. Fewer
// unsatisfied non-negotiables than last round counts as improvement and
// restarts the streak.
func (s Streak) next(unsatisfied int) Streak {
	switch {
	case unsatisfied == 0:
		return Streak{}
	case s.Rounds == 0 || unsatisfied < s.Unsatisfied:
		return Streak{Rounds: 1, Unsatisfied: unsatisfied}
	default:
		return Streak{Rounds: s.Rounds + 1, Unsatisfied: unsatisfied}
	}
}

// ConstraintCheck is one line of a response's constraint analysis.
type ConstraintCheck struct {
	Constraint string `json:"constraint" yaml:"constraint"`
	Priority   string `json:"priority" yaml:"priority"`
	Satisfied  bool   `json:"satisfied" yaml:"satisfied"`
	Outcome    string `json:"outcome" yaml:"outcome"`
	Evidence   string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Response is a participant's decided answer for one round.
type Response struct {
	Participant             constraint.ParticipantID `json:"participant" yaml:"participant"`
	Type                    Type                     `json:"type" yaml:"type"`
	NonNegotiablesSatisfied bool                     `json:"non_negotiables_satisfied" yaml:"non_negotiables_satisfied"`
	Confidence              satisfaction.Confidence  `json:"confidence" yaml:"confidence"`
	ConstraintAnalysis      []ConstraintCheck        `json:"constraint_analysis" yaml:"constraint_analysis"`
	Reason                  string                   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Decide maps a view to a response and returns the updated streak.
//
//	high   -> accept
//	medium -> accept-with-reservations
//	low    -> object, or accept-with-reservations when every unsatisfied
//	          non-negotiable is flexible enough
//
// An objection becomes an opt-out once the streak reaches policy.Patience.
func Decide(view satisfaction.View, prior Streak, policy Policy) (Response, Streak) {
	resp := Response{
		Participant:             view.Participant,
		NonNegotiablesSatisfied: view.NonNegotiablesSatisfied(),
		Confidence:              view.Confidence,
		ConstraintAnalysis:      analysis(view),
	}
	unsatisfied := view.Unsatisfied()
	streak := prior.next(len(unsatisfied))

	switch view.Confidence {
	case satisfaction.ConfidenceHigh:
		resp.Type = TypeAccept
		resp.Reason = "every top-tier constraint is satisfied"
	case satisfaction.ConfidenceMedium:
		resp.Type = TypeAcceptWithReservations
		resp.Reason = "non-negotiables satisfied; some strong preferences unmet"
	default:
		if len(unsatisfied) > 0 && allFlexible(unsatisfied, policy.FlexibilityThreshold) {
			resp.Type = TypeAcceptWithReservations
			resp.Reason = "unsatisfied non-negotiables are flexible"
			break
		}
		resp.Type = TypeObject
		resp.Reason = fmt.Sprintf("%d non-negotiable(s) not satisfied", len(unsatisfied))
		if policy.Patience > 0 && streak.Rounds >= policy.Patience {
			resp.Type = TypeOptOut
			resp.Reason = fmt.Sprintf("non-negotiables unsatisfied for %d consecutive rounds without improvement", streak.Rounds)
		}
	}

	// accept always implies satisfied non-negotiables
	if resp.Type == TypeAccept && !resp.NonNegotiablesSatisfied {
		resp.Type = TypeObject
	}
	return resp, streak
}

func allFlexible(unsatisfied []satisfaction.Assessment, threshold float64) bool {
	for _, a := range unsatisfied {
		if a.Tag.Flexibility <= threshold {
			return false
		}
	}
	return true
}

// analysis lists every tag on the top two tiers of either scale.
func analysis(view satisfaction.View) []ConstraintCheck {
	out := make([]ConstraintCheck, 0, len(view.Assessments))
	for _, a := range view.Assessments {
		if !a.Tag.IsTopTier() && !a.Tag.IsStrong() {
			continue
		}
		out = append(out, ConstraintCheck{
			Constraint: a.Tag.Text,
			Priority:   a.Tag.Priority(),
			Satisfied:  a.Outcome == satisfaction.Satisfied,
			Outcome:    a.Outcome.String(),
			Evidence:   a.Evidence,
		})
	}
	return out
}

// Tally counts responses by type.
type Tally struct {
	Accept                 int `json:"accept" yaml:"accept"`
	AcceptWithReservations int `json:"accept_with_reservations" yaml:"accept_with_reservations"`
	Object                 int `json:"object" yaml:"object"`
	OptOut                 int `json:"opt_out" yaml:"opt_out"`
}

// Count tallies a set of responses.
func Count(responses map[constraint.ParticipantID]Response) Tally {
	var t Tally
	for _, r := range responses {
		t.Add(r.Type)
	}
	return t
}

// Add records one response.
func (t *Tally) Add(typ Type) {
	switch typ {
	case TypeAccept:
		t.Accept++
	case TypeAcceptWithReservations:
		t.AcceptWithReservations++
	case TypeObject:
		t.Object++
	case TypeOptOut:
		t.OptOut++
	}
}

// Accepting is the number of accept and accept-with-reservations responses.
func (t Tally) Accepting() int {
	return t.Accept + t.AcceptWithReservations
}

// Total is the number of responses.
func (t Tally) Total() int {
	return t.Accept + t.AcceptWithReservations + t.Object + t.OptOut
}

// AcceptanceRate is the accepting share of responses that did not opt out.
func (t Tally) AcceptanceRate() float64 {
	active := t.Total() - t.OptOut
	if active <= 0 {
		return 0
	}
	return float64(t.Accepting()) / float64(active)
}

// String renders the tally compactly.
func (t Tally) String() string {
	return fmt.Sprintf("accept=%d reservations=%d object=%d opt-out=%d", t.Accept, t.AcceptWithReservations, t.Object, t.OptOut)
}
