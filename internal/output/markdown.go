package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// RunMarkdown renders a run report: the outcome, one row per round, the
// final plan and whatever was left unresolved. Forks follow as
// sub-reports.
func RunMarkdown(st *convergence.RunState) string {
	var b strings.Builder
	writeRunMarkdown(&b, st, 1)
	return b.String()
}

func writeRunMarkdown(b *strings.Builder, st *convergence.RunState, level int) {
	if st == nil {
		return
	}
	h := strings.Repeat("#", level)
	if st.ParentID == "" {
		fmt.Fprintf(b, "%s Run %s\n\n", h, st.ID)
	} else {
		fmt.Fprintf(b, "%s Fork %s\n\n", h, st.ID)
	}
	fmt.Fprintf(b, "**Outcome:** %s  \n", mdEscape(st.Outcome))
	status := string(st.Status)
	if st.Result != nil && st.Result.Reason != "" {
		status += " (" + st.Result.Reason + ")"
	}
	fmt.Fprintf(b, "**Status:** %s  \n", status)
	fmt.Fprintf(b, "**Participants:** %s\n\n", joinIDs(st.Participants))

	if len(st.History) > 0 {
		b.WriteString("| Round | Plan | Accept | Reservations | Object | Opt-out |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range st.History {
			plan := r.Combined.Content
			if r.Unverified {
				plan += " _(unverified)_"
			}
			fmt.Fprintf(b, "| %d | %s | %d | %d | %d | %d |\n", r.Index, mdCell(plan),
				r.Tally.Accept, r.Tally.AcceptWithReservations, r.Tally.Object, r.Tally.OptOut)
		}
		b.WriteString("\n")

		last := st.History[len(st.History)-1]
		fmt.Fprintf(b, "%s# Final plan\n\n%s\n\n", h, mdEscape(last.Combined.Content))
		if last.Combined.Rationale != "" {
			fmt.Fprintf(b, "> %s\n\n", mdEscape(last.Combined.Rationale))
		}
		writeResponses(b, last, h)
	}

	if r := st.Result; r != nil {
		if len(r.UnresolvedTensions) > 0 {
			fmt.Fprintf(b, "%s# Unresolved tensions\n\n", h)
			for _, t := range r.UnresolvedTensions {
				fmt.Fprintf(b, "- %s\n", mdEscape(t.Description))
				for _, res := range t.PossibleResolutions {
					fmt.Fprintf(b, "  - try: %s\n", mdEscape(res))
				}
			}
			b.WriteString("\n")
		}
		if len(r.ViolatedNonNegotiables) > 0 {
			fmt.Fprintf(b, "%s# Unsatisfied non-negotiables\n\n", h)
			for _, v := range r.ViolatedNonNegotiables {
				fmt.Fprintf(b, "- **%s**: %s (%s)\n", v.Participant, mdEscape(v.Constraint), v.Outcome)
			}
			b.WriteString("\n")
		}
		if len(r.OptedOut) > 0 {
			fmt.Fprintf(b, "**Opted out:** %s\n\n", joinIDs(r.OptedOut))
		}
		if r.Error != "" {
			fmt.Fprintf(b, "**Error:** %s\n\n", mdEscape(r.Error))
		}
	}

	if len(st.Quarantined) > 0 {
		fmt.Fprintf(b, "%s# Quarantined constraints\n\n", h)
		for _, q := range st.Quarantined {
			fmt.Fprintf(b, "- **%s**: %q (%s)\n", q.Owner, q.Raw.Text, q.Reason)
		}
		b.WriteString("\n")
	}

	for _, f := range st.Forks {
		writeRunMarkdown(b, f, level+1)
	}
}

func writeResponses(b *strings.Builder, r convergence.Round, h string) {
	if len(r.Responses) == 0 {
		return
	}
	ids := make([]string, 0, len(r.Responses))
	for id := range r.Responses {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	fmt.Fprintf(b, "%s# Responses\n\n", h)
	b.WriteString("| Participant | Response | Confidence | Reason |\n|---|---|---|---|\n")
	for _, id := range ids {
		resp := r.Responses[constraint.ParticipantID(id)]
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", id, resp.Type, resp.Confidence, mdCell(resp.Reason))
	}
	b.WriteString("\n")
}

// RoundMarkdown renders one round in detail.
func RoundMarkdown(runID string, r convergence.Round) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s, round %d\n\n", runID, r.Index)
	fmt.Fprintf(&b, "**Tally:** %s  \n", r.Tally)
	fmt.Fprintf(&b, "**Oracle attempts:** %d\n\n", r.Attempts)

	b.WriteString("## Plan\n\n")
	b.WriteString(mdEscape(r.Combined.Content) + "\n\n")
	if r.Unverified {
		b.WriteString("_The oracle never produced a valid proposal; this plan was not verified._\n\n")
	}
	if addressed := r.Combined.Addressed(); len(addressed) > 0 {
		b.WriteString("Addresses: " + mdEscape(strings.Join(addressed, "; ")) + "\n\n")
	}

	writeQuestions(&b, r.Questions, "##")
	writeResponses(&b, r, "#")

	if len(r.Tensions) > 0 {
		b.WriteString("## Tensions\n\n")
		for _, t := range r.Tensions {
			fmt.Fprintf(&b, "- %s\n", mdEscape(t.Description))
		}
		b.WriteString("\n")
	}
	if len(r.Rejections) > 0 {
		b.WriteString("## Rejected oracle output\n\n")
		for _, rej := range r.Rejections {
			fmt.Fprintf(&b, "- attempt %d, %s: %s\n", rej.Attempt, rej.Kind, mdEscape(rej.Reason))
		}
		b.WriteString("\n")
	}
	if len(r.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", mdEscape(w))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StructureMarkdown renders a structured decision space.
func StructureMarkdown(res structuring.Result) string {
	var b strings.Builder
	b.WriteString("# Decision questions\n\n")
	writeQuestions(&b, res.Questions, "")
	if len(res.ConsensusItems) > 0 {
		b.WriteString("## Already agreed\n\n")
		for _, c := range res.ConsensusItems {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", mdEscape(c.Text), c.Category, joinIDs(c.Holders))
		}
		b.WriteString("\n")
	}
	if len(res.Couplings) > 0 {
		b.WriteString("## Couplings\n\n")
		for _, c := range res.Couplings {
			fmt.Fprintf(&b, "- %s: %s\n", c.Key(), mdEscape(c.Nature))
		}
		b.WriteString("\n")
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "> warning: %s\n", mdEscape(w))
	}
	return b.String()
}

func writeQuestions(b *strings.Builder, qs []structuring.Question, h string) {
	if len(qs) == 0 {
		return
	}
	if h != "" {
		fmt.Fprintf(b, "%s Questions\n\n", h)
	}
	b.WriteString("| Category | Contested | Positions |\n|---|---|---|\n")
	for _, q := range qs {
		if !q.HasConflict {
			fmt.Fprintf(b, "| %s | no | %s |\n", q.Category, mdCell(q.ConsensusView))
			continue
		}
		views := make([]string, len(q.Positions))
		for i, p := range q.Positions {
			views[i] = fmt.Sprintf("%s (%s)", p.View, joinIDs(p.Holders))
		}
		contested := "yes"
		if len(q.HardConflicts()) > 0 {
			contested = "hard"
		}
		fmt.Fprintf(b, "| %s | %s | %s |\n", q.Category, contested, mdCell(strings.Join(views, "; ")))
	}
	b.WriteString("\n")
}

// WriteMarkdown writes md for display. On a terminal it is rendered with
// glamour at the terminal width; elsewhere the source is word wrapped.
func WriteMarkdown(w io.Writer, md string) error {
	width := TerminalWidth(w)
	if IsTerminal(w) {
		style := "dark"
		if !UseColor(w) {
			style = "notty"
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			out, err := r.Render(md)
			if err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := io.WriteString(w, wrapProse(md, width))
	return err
}

// wrapProse word wraps everything except table rows, which must stay on
// one line.
func wrapProse(md string, width int) string {
	lines := strings.Split(md, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "|") {
			continue
		}
		lines[i] = wordwrap.String(l, width)
	}
	return strings.Join(lines, "\n")
}

func joinIDs(ids []constraint.ParticipantID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

var mdReplacer = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`")

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}

func mdCell(s string) string {
	s = strings.ReplaceAll(mdEscape(s), "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
