package record

import (
	"fmt"
	"sort"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// Discrepancy is a recorded fact that replay could not reproduce.
type Discrepancy struct {
	RunID       string                   `json:"run_id" yaml:"run_id"`
	Round       int                      `json:"round" yaml:"round"`
	Participant constraint.ParticipantID `json:"participant,omitempty" yaml:"participant,omitempty"`
	Field       string                   `json:"field" yaml:"field"`
	Recorded    string                   `json:"recorded" yaml:"recorded"`
	Replayed    string                   `json:"replayed" yaml:"replayed"`
}

func (d Discrepancy) String() string {
	who := ""
	if d.Participant != "" {
		who = " " + string(d.Participant)
	}
	return fmt.Sprintf("run %s round %d%s: %s recorded %q, replay gives %q", d.RunID, d.Round, who, d.Field, d.Recorded, d.Replayed)
}

// Verify replays classification and the response decision for every
// recorded round of the run and its forks, and checks the structural
// invariants of the history. An empty result means the record is
// consistent.
func Verify(rec Record, m satisfaction.Matcher, policy response.Policy) []Discrepancy {
	var out []Discrepancy
	rec.Run.Walk(func(st *convergence.RunState) {
		out = append(out, verifyRun(st, m, policy)...)
	})
	return out
}

func verifyRun(st *convergence.RunState, m satisfaction.Matcher, policy response.Policy) []Discrepancy {
	var out []Discrepancy
	add := func(round int, p constraint.ParticipantID, field, recorded, replayed string) {
		out = append(out, Discrepancy{RunID: st.ID, Round: round, Participant: p, Field: field, Recorded: recorded, Replayed: replayed})
	}

	streaks := make(map[constraint.ParticipantID]response.Streak)
	for i, round := range st.History {
		if round.Index != i+1 {
			add(round.Index, "", "index", fmt.Sprint(round.Index), fmt.Sprint(i+1))
		}
		if err := (structuring.Result{Questions: round.Questions}).Validate(len(round.Responses)); err != nil {
			add(round.Index, "", "questions", "valid", err.Error())
		}

		byOwner := constraint.GroupByOwner(round.Constraints)
		ids := make([]constraint.ParticipantID, 0, len(round.Responses))
		for p := range round.Responses {
			ids = append(ids, p)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

		var tally response.Tally
		for _, p := range ids {
			recorded := round.Responses[p]
			view := satisfaction.Classify(p, byOwner[p], round.Combined, m)
			replayed, streak := response.Decide(view, streaks[p], policy)
			streaks[p] = streak
			tally.Add(replayed.Type)

			if recorded.Type != replayed.Type {
				add(round.Index, p, "type", recorded.Type.String(), replayed.Type.String())
			}
			if recorded.Confidence != replayed.Confidence {
				add(round.Index, p, "confidence", recorded.Confidence.String(), replayed.Confidence.String())
			}
			if recorded.NonNegotiablesSatisfied != replayed.NonNegotiablesSatisfied {
				add(round.Index, p, "non_negotiables_satisfied",
					fmt.Sprint(recorded.NonNegotiablesSatisfied), fmt.Sprint(replayed.NonNegotiablesSatisfied))
			}
			if recorded.Type == response.TypeAccept && !recorded.NonNegotiablesSatisfied {
				add(round.Index, p, "accept", "accept with unsatisfied non-negotiables", "object")
			}
		}
		if stored := response.Count(round.Responses); stored != round.Tally {
			add(round.Index, "", "tally", round.Tally.String(), stored.String())
		} else if tally != round.Tally {
			add(round.Index, "", "tally", round.Tally.String(), tally.String())
		}
	}

	if st.Result != nil {
		if st.Result.Rounds != len(st.History) {
			add(0, "", "result.rounds", fmt.Sprint(st.Result.Rounds), fmt.Sprint(len(st.History)))
		}
		if st.Result.Status != st.Status {
			add(0, "", "result.status", st.Result.Status.String(), st.Status.String())
		}
		if st.Status == convergence.StatusConverged {
			if last, ok := st.LastRound(); ok {
				for p, resp := range last.Responses {
					if resp.Type != response.TypeOptOut && !resp.NonNegotiablesSatisfied {
						add(last.Index, p, "converged", "all non-negotiables satisfied", "unsatisfied non-negotiable")
					}
				}
			}
		}
	}
	return out
}
