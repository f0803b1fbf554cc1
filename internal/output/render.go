package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/record"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// Classification is the result of classifying one participant's
// constraints against a proposal.
type Classification struct {
	View     satisfaction.View `json:"view" yaml:"view"`
	Response response.Response `json:"response" yaml:"response"`
}

// RenderRun writes the outcome of a run: the summary envelope for
// structured formats, the report otherwise.
func RenderRun(w io.Writer, st *convergence.RunState, f Format) error {
	switch {
	case f.IsStructured():
		return WriteStructured(w, NewRunResponse(st), f)
	case f == FormatMarkdown:
		_, err := io.WriteString(w, RunMarkdown(st))
		return err
	}
	return WriteMarkdown(w, RunMarkdown(st))
}

// RenderRound writes one round of a run.
func RenderRound(w io.Writer, runID string, r convergence.Round, f Format) error {
	switch {
	case f.IsStructured():
		return WriteStructured(w, r, f)
	case f == FormatMarkdown:
		_, err := io.WriteString(w, RoundMarkdown(runID, r))
		return err
	}
	return WriteMarkdown(w, RoundMarkdown(runID, r))
}

// RenderStructure writes a structured decision space.
func RenderStructure(w io.Writer, res structuring.Result, f Format) error {
	switch {
	case f.IsStructured():
		return WriteStructured(w, res, f)
	case f == FormatMarkdown:
		_, err := io.WriteString(w, StructureMarkdown(res))
		return err
	}
	return WriteMarkdown(w, StructureMarkdown(res))
}

// RenderSummaries writes a run listing.
func RenderSummaries(w io.Writer, runs []record.Summary, f Format) error {
	if f.IsStructured() {
		return WriteStructured(w, NewList(runs), f)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	p := PaletteFor(w)
	tbl := NewStyledTableWriter(w, "ID", "OUTCOME", "STATUS", "ROUNDS", "FORKS", "STARTED")
	tbl.WithPalette(p).WithBorder(true)
	for _, s := range runs {
		status := string(s.Status)
		if s.Reason != "" {
			status += " (" + s.Reason + ")"
		}
		tbl.AddRow(s.ID, s.Outcome, status,
			fmt.Sprint(s.Rounds), fmt.Sprint(s.Forks), s.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	tbl.WithFooter(fmt.Sprintf("%d run(s)", len(runs)))
	tbl.Render()
	return nil
}

// RenderDiff writes the change between two rounds.
func RenderDiff(w io.Writer, d record.RoundDiff, f Format) error {
	if f.IsStructured() {
		return WriteStructured(w, d, f)
	}
	p := PaletteFor(w)
	if f == FormatMarkdown {
		p = PlainPalette()
	}
	fmt.Fprintf(w, "%s\n", p.Title.Render(fmt.Sprintf("Round %d → %d (%.0f%% similar)", d.From, d.To, d.Similarity*100)))
	if !d.Changed() {
		_, err := fmt.Fprintln(w, p.Muted.Render("no change"))
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(d.Content, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			line = p.Success.Render(line)
		case strings.HasPrefix(line, "-"):
			line = p.Error.Render(line)
		default:
			line = p.Muted.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%s %s → %s\n", p.Header.Render("tally"), d.TallyFrom, d.TallyTo)
	for _, c := range d.Responses {
		fmt.Fprintf(w, "  %s: %s → %s\n", c.Participant, p.Response(c.From), p.Response(c.To))
	}
	for _, t := range d.ResolvedTensions {
		fmt.Fprintf(w, "  %s %s\n", p.Success.Render("resolved"), t)
	}
	for _, t := range d.NewTensions {
		fmt.Fprintf(w, "  %s %s\n", p.Warning.Render("new tension"), t)
	}
	return nil
}

// RenderDiscrepancies writes the result of verifying a record.
func RenderDiscrepancies(w io.Writer, runID string, ds []record.Discrepancy, f Format) error {
	if f.IsStructured() {
		return WriteStructured(w, NewList(ds), f)
	}
	p := PaletteFor(w)
	if len(ds) == 0 {
		_, err := fmt.Fprintf(w, "%s run %s replays cleanly\n", p.Success.Render("✓"), runID)
		return err
	}
	tbl := NewStyledTableWriter(w, "RUN", "ROUND", "PARTICIPANT", "FIELD", "RECORDED", "REPLAYED")
	tbl.WithPalette(p)
	for _, d := range ds {
		tbl.AddRow(d.RunID, fmt.Sprint(d.Round), string(d.Participant), d.Field, d.Recorded, d.Replayed)
	}
	tbl.WithFooter(fmt.Sprintf("%d discrepanc(ies)", len(ds)))
	tbl.Render()
	return nil
}

// RenderClassification writes a participant's reading of a proposal.
func RenderClassification(w io.Writer, c Classification, f Format) error {
	if f.IsStructured() {
		return WriteStructured(w, c, f)
	}
	p := PaletteFor(w)
	if f == FormatMarkdown {
		p = PlainPalette()
	}
	fmt.Fprintf(w, "%s %s  %s %s\n",
		p.Header.Render("response"), p.Response(c.Response.Type),
		p.Header.Render("confidence"), c.View.Confidence)
	if c.Response.Reason != "" {
		fmt.Fprintf(w, "%s\n", p.Muted.Render(c.Response.Reason))
	}
	fmt.Fprintln(w)

	assessments := append([]satisfaction.Assessment(nil), c.View.Assessments...)
	sort.SliceStable(assessments, func(i, j int) bool {
		return assessments[i].Tag.IsTopTier() && !assessments[j].Tag.IsTopTier()
	})
	tbl := NewStyledTableWriter(w, "CONSTRAINT", "PRIORITY", "OUTCOME", "EVIDENCE")
	tbl.WithPalette(p)
	for _, a := range assessments {
		tbl.AddRow(a.Tag.Text, a.Tag.Priority(), string(a.Outcome), a.Evidence)
	}
	tbl.Render()
	return nil
}
