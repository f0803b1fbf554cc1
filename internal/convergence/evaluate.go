package convergence

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
)

type evaluation struct {
	participant constraint.ParticipantID
	view        satisfaction.View
	resp        response.Response
	streak      response.Streak
	narration   *proposal.Narration
}

// evaluate classifies and decides for every active participant
// concurrently and waits for all of them. Workers read only their own
// snapshot and write only their own slot.
func (r *runner) evaluate(ctx context.Context, p proposal.Proposal, tags []constraint.Tag, active []constraint.ParticipantID) ([]evaluation, error) {
	out := make([]evaluation, len(active))
	byOwner := constraint.GroupByOwner(tags)
	policy := r.e.cfg.Policy()
	timeout := r.e.cfg.OracleTimeout
	narrator := r.e.narrator
	lex := r.e.lexicon
	log := r.log

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, pid := range active {
		own := byOwner[pid]
		prior := r.streaks[pid]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view := satisfaction.Classify(pid, own, p, lex)
			resp, streak := response.Decide(view, prior, policy)
			ev := evaluation{participant: pid, view: view, resp: resp, streak: streak}

			if narrator != nil {
				n, err := oracle.Call(gctx, 1, timeout, func(c context.Context) (proposal.Narration, error) {
					return narrator.Narrate(c, p, pid, own)
				})
				switch {
				case err == nil:
					ev.narration = &n
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					log.Debug("narration skipped", "participant", pid, "error", err)
				}
			}
			out[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
