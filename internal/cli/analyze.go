package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/output"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// StructureReport is the structured output of the structure command.
type StructureReport struct {
	Structure   structuring.Result       `json:"structure" yaml:"structure"`
	Quarantined []constraint.Quarantined `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
	Error       string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

func newStructureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "structure <scenario.yaml>",
		Short: "Show the decision questions a scenario structures into",
		Long: `Structures the participants' constraints into questions, positions,
conflicts, couplings and consensus items without running any rounds.
Tags that fail validation are listed as quarantined.

Examples:
  accord structure dinner.yaml
  accord structure dinner.yaml --format=yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStructure(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) runStructure(w io.Writer, path string) error {
	s, err := loadScenario(path)
	if err != nil {
		return err
	}
	r, err := a.openRunner()
	if err != nil {
		return err
	}
	defer r.Close()

	res, dropped, structErr := r.Structure(s.Participants, s.Commitments)
	if a.format.IsStructured() {
		report := StructureReport{Structure: res, Quarantined: dropped}
		if structErr != nil {
			report.Error = structErr.Error()
		}
		if err := output.WriteStructured(w, report, a.format); err != nil {
			return err
		}
		return structErr
	}
	if err := output.RenderStructure(w, res, a.format); err != nil {
		return err
	}
	writeQuarantined(w, dropped)
	return structErr
}

func writeQuarantined(w io.Writer, dropped []constraint.Quarantined) {
	if len(dropped) == 0 {
		return
	}
	p := output.PaletteFor(w)
	fmt.Fprintf(w, "\n%s\n", p.Warning.Render(fmt.Sprintf("%d tag(s) quarantined", len(dropped))))
	for _, q := range dropped {
		fmt.Fprintf(w, "  %s %q: %s\n", q.Owner, q.Raw.Text, p.Muted.Render(q.Reason))
	}
}

type classifyFlags struct {
	participant  string
	proposal     string
	proposalFile string
	runID        string
	round        int
}

func newClassifyCmd(a *app) *cobra.Command {
	var f classifyFlags

	cmd := &cobra.Command{
		Use:   "classify <scenario.yaml>",
		Short: "Read a proposal from one participant's side",
		Long: `Classifies each of a participant's constraints against a proposal and
shows the response they would give. The proposal is given inline, read
from a file, or taken from a round of a stored run.

Examples:
  accord classify dinner.yaml --participant bob --proposal "Green Leaf, 7pm, $30 each"
  accord classify dinner.yaml --participant bob --proposal-file plan.txt
  accord classify dinner.yaml --participant bob --run friday-dinner --round 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClassify(cmd.OutOrStdout(), args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.participant, "participant", "p", "", "participant ID (required)")
	cmd.Flags().StringVar(&f.proposal, "proposal", "", "proposal text")
	cmd.Flags().StringVar(&f.proposalFile, "proposal-file", "", "read the proposal text from a file")
	cmd.Flags().StringVar(&f.runID, "run", "", "take the proposal from a stored run")
	cmd.Flags().IntVar(&f.round, "round", 0, "round of --run to use (default: the last)")
	_ = cmd.MarkFlagRequired("participant")
	cmd.MarkFlagsMutuallyExclusive("proposal", "proposal-file", "run")
	return cmd
}

func (a *app) runClassify(w io.Writer, path string, f classifyFlags) error {
	s, err := loadScenario(path)
	if err != nil {
		return err
	}
	var raw []constraint.RawTag
	found := false
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.ID)
		if p.ID == f.participant {
			raw, found = p.Constraints, true
		}
	}
	if !found {
		sort.Strings(ids)
		return output.InvalidFlagError("participant", f.participant, "one of "+strings.Join(ids, ", "))
	}

	r, err := a.openRunner()
	if err != nil {
		return err
	}
	defer r.Close()

	var prop proposal.Proposal
	switch {
	case f.proposal != "":
		prop = proposal.Proposal{Question: s.Outcome, Content: f.proposal}
	case f.proposalFile != "":
		data, err := os.ReadFile(f.proposalFile)
		if err != nil {
			return fmt.Errorf("read proposal: %w", err)
		}
		prop = proposal.Proposal{Question: s.Outcome, Content: string(data)}
	case f.runID != "":
		rec, err := loadRecord(r, f.runID)
		if err != nil {
			return err
		}
		history := rec.Run.History
		if len(history) == 0 {
			return output.RoundOutOfRangeError(f.runID, f.round, 0)
		}
		n := f.round
		if n == 0 {
			n = history[len(history)-1].Index
		}
		idx := -1
		for i, round := range history {
			if round.Index == n {
				idx = i
			}
		}
		if idx < 0 {
			return output.RoundOutOfRangeError(f.runID, n, len(history))
		}
		prop = history[idx].Combined
	default:
		return output.InvalidFlagError("proposal", "", "give --proposal, --proposal-file or --run")
	}

	view, resp, dropped := r.Classify(f.participant, raw, prop)
	if err := output.RenderClassification(w, output.Classification{View: view, Response: resp}, a.format); err != nil {
		return err
	}
	if !a.format.IsStructured() {
		writeQuarantined(w, dropped)
	}
	return nil
}
