package oracle

import (
	"context"
	"fmt"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/lexicon"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
)

// SummaryNarrator narrates a proposal from the participant's own
// classification. Its output is display-only.
type SummaryNarrator struct {
	Lexicon *lexicon.Lexicon
}

// Narrate implements Narrator.
func (n SummaryNarrator) Narrate(ctx context.Context, p proposal.Proposal, participant constraint.ParticipantID, tags []constraint.Tag) (proposal.Narration, error) {
	if err := ctx.Err(); err != nil {
		return proposal.Narration{}, err
	}
	lex := n.Lexicon
	if lex == nil {
		lex = lexicon.Default()
	}
	view := satisfaction.Classify(participant, tags, p, lex)
	out := proposal.Narration{Confidence: view.Confidence.String()}
	for _, a := range view.Assessments {
		switch a.Outcome {
		case satisfaction.Satisfied:
			out.Highlights = append(out.Highlights, fmt.Sprintf("%s (%s)", a.Tag.Text, a.Evidence))
		case satisfaction.Violated:
			out.Concerns = append(out.Concerns, fmt.Sprintf("%s: %s", a.Tag.Text, a.Evidence))
		default:
			if a.Tag.IsTopTier() || a.Tag.IsStrong() {
				out.Concerns = append(out.Concerns, a.Tag.Text+": not mentioned")
			}
		}
	}
	return out, nil
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(ctx context.Context, p proposal.Proposal, participant constraint.ParticipantID, tags []constraint.Tag) (proposal.Narration, error)

// Narrate calls f.
func (f NarratorFunc) Narrate(ctx context.Context, p proposal.Proposal, participant constraint.ParticipantID, tags []constraint.Tag) (proposal.Narration, error) {
	return f(ctx, p, participant, tags)
}
