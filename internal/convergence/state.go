package convergence

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// ErrIllegalTransition is returned when the engine attempts a status change
// the state machine does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// Status is the run's position in the state machine.
type Status string

const (
	StatusStructuring      Status = "structuring"
	StatusProposing        Status = "proposing"
	StatusEvaluating       Status = "evaluating"
	StatusConverged        Status = "converged"
	StatusMajorityAccepted Status = "majority-accepted"
	StatusDiverged         Status = "diverged"
	StatusForked           Status = "forked"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusStructuring, StatusProposing, StatusEvaluating,
		StatusConverged, StatusMajorityAccepted, StatusDiverged, StatusForked:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConverged, StatusMajorityAccepted, StatusDiverged, StatusForked:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	"":                     {StatusStructuring},
	StatusStructuring:      {StatusProposing, StatusDiverged},
	StatusProposing:        {StatusEvaluating, StatusDiverged},
	StatusEvaluating:       {StatusStructuring, StatusConverged, StatusMajorityAccepted, StatusDiverged, StatusForked},
	StatusConverged:        nil,
	StatusMajorityAccepted: nil,
	StatusDiverged:         nil,
	StatusForked:           nil,
}

// CanTransition reports whether the state machine allows s -> to. Only an
// evaluating run may loop back to structuring.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reasons attached to a terminal status.
const (
	ReasonConsensus          = "consensus"
	ReasonMajority           = "majority"
	ReasonMaxRounds          = "max-rounds"
	ReasonOptOuts            = "opt-outs"
	ReasonNoParticipants     = "no-active-participants"
	ReasonValueConflict      = "value-conflict"
	ReasonTimeout            = "timeout"
	ReasonCanceled           = "canceled"
	ReasonInvariantViolation = "invariant-violation"
	ReasonOracleFailure      = "oracle-failure"
)

// Transition records one status change.
type Transition struct {
	From  Status    `json:"from" yaml:"from"`
	To    Status    `json:"to" yaml:"to"`
	Round int       `json:"round" yaml:"round"`
	At    time.Time `json:"at" yaml:"at"`
}

// Round is the append-only record of one completed round.
type Round struct {
	Index          int                         `json:"index" yaml:"index"`
	Constraints    []constraint.Tag            `json:"constraints" yaml:"constraints"`
	Questions      []structuring.Question      `json:"questions" yaml:"questions"`
	Couplings      []structuring.Coupling      `json:"couplings,omitempty" yaml:"couplings,omitempty"`
	ConsensusItems []structuring.ConsensusItem `json:"consensus_items,omitempty" yaml:"consensus_items,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Proposals      []proposal.Proposal         `json:"proposals" yaml:"proposals"`
	// Combined is the single plan every participant evaluated.
	Combined    proposal.Proposal                               `json:"combined" yaml:"combined"`
	Tensions    []proposal.Tension                              `json:"tensions,omitempty" yaml:"tensions,omitempty"`
	Unverified  bool                                            `json:"unverified,omitempty" yaml:"unverified,omitempty"`
	Attempts    int                                             `json:"attempts" yaml:"attempts"`
	Rejections  []oracle.Rejection                              `json:"rejections,omitempty" yaml:"rejections,omitempty"`
	Responses   map[constraint.ParticipantID]response.Response  `json:"responses" yaml:"responses"`
	Narrations  map[constraint.ParticipantID]proposal.Narration `json:"narrations,omitempty" yaml:"narrations,omitempty"`
	Tally       response.Tally                                  `json:"tally" yaml:"tally"`
	CompletedAt time.Time                                       `json:"completed_at" yaml:"completed_at"`
}

// Refinement records how an objecting participant's constraints changed
// between rounds.
type Refinement struct {
	Round       int                       `json:"round" yaml:"round"`
	Participant constraint.ParticipantID  `json:"participant" yaml:"participant"`
	Added       []string                  `json:"added,omitempty" yaml:"added,omitempty"`
	Regraded    []constraint.Supersession `json:"regraded,omitempty" yaml:"regraded,omitempty"`
	Retired     []string                  `json:"retired,omitempty" yaml:"retired,omitempty"`
	Quarantined []constraint.Quarantined  `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
	Error       string                    `json:"error,omitempty" yaml:"error,omitempty"`
}

// ViolatedConstraint is a non-negotiable left unsatisfied at the end of a run.
type ViolatedConstraint struct {
	Participant constraint.ParticipantID `json:"participant" yaml:"participant"`
	Constraint  string                   `json:"constraint" yaml:"constraint"`
	Outcome     string                   `json:"outcome" yaml:"outcome"`
	Evidence    string                   `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Result summarizes a finished run. Every terminal status carries the
// unresolved tensions and unsatisfied non-negotiables of the final round.
type Result struct {
	Status                 Status                     `json:"status" yaml:"status"`
	Reason                 string                     `json:"reason" yaml:"reason"`
	Rounds                 int                        `json:"rounds" yaml:"rounds"`
	Tally                  response.Tally             `json:"tally" yaml:"tally"`
	AcceptanceRate         float64                    `json:"acceptance_rate" yaml:"acceptance_rate"`
	UnresolvedTensions     []proposal.Tension         `json:"unresolved_tensions,omitempty" yaml:"unresolved_tensions,omitempty"`
	ViolatedNonNegotiables []ViolatedConstraint       `json:"violated_non_negotiables,omitempty" yaml:"violated_non_negotiables,omitempty"`
	OptedOut               []constraint.ParticipantID `json:"opted_out,omitempty" yaml:"opted_out,omitempty"`
	Unverified             bool                       `json:"unverified,omitempty" yaml:"unverified,omitempty"`
	Error                  string                     `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunState is owned by the orchestrating goroutine of one run. Callers
// receive it only once Run returns.
type RunState struct {
	ID            string                     `json:"id" yaml:"id"`
	ParentID      string                     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Depth         int                        `json:"depth" yaml:"depth"`
	Outcome       string                     `json:"outcome" yaml:"outcome"`
	Participants  []constraint.ParticipantID `json:"participants" yaml:"participants"`
	Round         int                        `json:"round" yaml:"round"`
	Status        Status                     `json:"status" yaml:"status"`
	History       []Round                    `json:"history" yaml:"history"`
	Transitions   []Transition               `json:"transitions" yaml:"transitions"`
	Refinements   []Refinement               `json:"refinements,omitempty" yaml:"refinements,omitempty"`
	Quarantined   []constraint.Quarantined   `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
	Ledger        []constraint.Tag           `json:"ledger" yaml:"ledger"`
	Supersessions []constraint.Supersession  `json:"supersessions,omitempty" yaml:"supersessions,omitempty"`
	Forks         []*RunState                `json:"forks,omitempty" yaml:"forks,omitempty"`
	Result        *Result                    `json:"result,omitempty" yaml:"result,omitempty"`
	StartedAt     time.Time                  `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time                  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func (s *RunState) transition(to Status, at time.Time) error {
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("%w: %q -> %q", ErrIllegalTransition, s.Status, to)
	}
	s.Transitions = append(s.Transitions, Transition{From: s.Status, To: to, Round: s.Round, At: at})
	s.Status = to
	return nil
}

// LastRound returns the most recent completed round.
func (s *RunState) LastRound() (Round, bool) {
	if s == nil || len(s.History) == 0 {
		return Round{}, false
	}
	return s.History[len(s.History)-1], true
}

// Walk calls fn for s and every fork beneath it, depth first.
func (s *RunState) Walk(fn func(*RunState)) {
	if s == nil {
		return
	}
	fn(s)
	for _, f := range s.Forks {
		f.Walk(fn)
	}
}
