package convergence

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// partition splits the active participants along the positions of a
// contested question. Participants holding no position join the largest
// group.
func (r *runner) partition(q structuring.Question) [][]constraint.ParticipantID {
	assigned := make(map[constraint.ParticipantID]bool)
	var groups [][]constraint.ParticipantID
	for _, pos := range q.Positions {
		var g []constraint.ParticipantID
		for _, h := range pos.Holders {
			if !r.optedOut[h] && !assigned[h] {
				assigned[h] = true
				g = append(g, h)
			}
		}
		if len(g) > 0 {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	largest := 0
	for i, g := range groups {
		if len(g) > len(groups[largest]) {
			largest = i
		}
	}
	for _, p := range r.active() {
		if !assigned[p] {
			groups[largest] = append(groups[largest], p)
		}
	}
	return groups
}

// fork runs one sub-negotiation per partition concurrently and attaches
// them to the run in partition order.
func (r *runner) fork(ctx context.Context, q *structuring.Question) error {
	groups := r.partition(*q)
	r.log.Info("forking run", "round", r.st.Round, "category", q.Category, "partitions", len(groups))

	subs := make([]*RunState, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, members := range groups {
		in := Input{
			Outcome:      r.in.Outcome,
			Participants: members,
			Commitments:  r.in.Commitments,
		}
		for _, p := range members {
			in.Tags = append(in.Tags, r.ledger.CurrentFor(p)...)
		}
		g.Go(func() error {
			sub, err := r.e.run(gctx, in, r.st.Depth+1, r.st.ID)
			subs[i] = sub
			if err != nil {
				return fmt.Errorf("fork %d: %w", i+1, err)
			}
			return nil
		})
	}
	err := g.Wait()
	for _, s := range subs {
		if s != nil {
			r.st.Forks = append(r.st.Forks, s)
		}
	}
	return err
}
