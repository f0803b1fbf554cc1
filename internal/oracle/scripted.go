package oracle

import (
	"context"
	"sync"

	"github.com/Dicklesworthstone/accord/internal/constraint"
)

// ScriptedGenerator replays a fixed generation per round. Rounds past the
// end of the script repeat the last entry.
type ScriptedGenerator struct {
	Rounds []Generation

	mu    sync.Mutex
	calls int
}

// Generate implements Generator.
func (s *ScriptedGenerator) Generate(ctx context.Context, req Request) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if len(s.Rounds) == 0 {
		return Generation{}, ErrNoGeneration
	}
	i := req.Round - 1
	if i < 0 {
		i = 0
	}
	if i >= len(s.Rounds) {
		i = len(s.Rounds) - 1
	}
	return s.Rounds[i], nil
}

// Calls returns how many times Generate has been called.
func (s *ScriptedGenerator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ScriptedRefiner answers refinement requests from a per-participant,
// per-round table of replacement tags. A participant or round with no
// entry keeps its current tags.
type ScriptedRefiner struct {
	Updates map[constraint.ParticipantID]map[int][]constraint.Tag
}

// Refine implements Refiner.
func (s *ScriptedRefiner) Refine(ctx context.Context, req RefineRequest) ([]constraint.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byRound, ok := s.Updates[req.Participant]
	if !ok {
		return req.Current, nil
	}
	tags, ok := byRound[req.Round]
	if !ok {
		return req.Current, nil
	}
	out := make([]constraint.Tag, len(tags))
	for i, t := range tags {
		t.Owner = req.Participant
		out[i] = t
	}
	return out, nil
}
