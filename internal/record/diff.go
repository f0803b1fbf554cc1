package record

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// ResponseChange is a participant whose response type changed.
type ResponseChange struct {
	Participant constraint.ParticipantID `json:"participant" yaml:"participant"`
	From        response.Type            `json:"from,omitempty" yaml:"from,omitempty"`
	To          response.Type            `json:"to,omitempty" yaml:"to,omitempty"`
}

// RoundDiff describes what changed between two rounds.
type RoundDiff struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
	// Content is a line-oriented unified rendering of the combined
	// proposal change: "+" added, "-" removed, " " kept.
	Content          string           `json:"content" yaml:"content"`
	Patch            string           `json:"patch,omitempty" yaml:"patch,omitempty"`
	Similarity       float64          `json:"similarity" yaml:"similarity"`
	Responses        []ResponseChange `json:"responses,omitempty" yaml:"responses,omitempty"`
	TallyFrom        response.Tally   `json:"tally_from" yaml:"tally_from"`
	TallyTo          response.Tally   `json:"tally_to" yaml:"tally_to"`
	NewTensions      []string         `json:"new_tensions,omitempty" yaml:"new_tensions,omitempty"`
	ResolvedTensions []string         `json:"resolved_tensions,omitempty" yaml:"resolved_tensions,omitempty"`
}

// Changed reports whether anything differs.
func (d RoundDiff) Changed() bool {
	return d.Similarity < 1 || len(d.Responses) > 0 || len(d.NewTensions) > 0 || len(d.ResolvedTensions) > 0
}

// splitPlan puts each sentence of a combined proposal on its own line so
// the diff works per plan element.
func splitPlan(content string) string {
	parts := strings.FieldsFunc(content, func(r rune) bool { return r == '.' || r == ';' || r == '\n' })
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// DiffRounds compares two rounds of a run.
func DiffRounds(a, b convergence.Round) RoundDiff {
	d := RoundDiff{From: a.Index, To: b.Index, TallyFrom: a.Tally, TallyTo: b.Tally}

	dmp := diffmatchpatch.New()
	left, right := splitPlan(a.Combined.Content), splitPlan(b.Combined.Content)
	ca, cb, lines := dmp.DiffLinesToChars(left, right)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder
	same, total := 0, 0
	for _, df := range diffs {
		prefix := " "
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimSuffix(df.Text, "\n"), "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix + " " + line + "\n")
			total++
			if df.Type == diffmatchpatch.DiffEqual {
				same++
			}
		}
	}
	d.Content = sb.String()
	d.Similarity = 1
	if total > 0 {
		d.Similarity = float64(same) / float64(total)
	}
	if left != right {
		d.Patch = dmp.PatchToText(dmp.PatchMake(a.Combined.Content, b.Combined.Content))
	}

	ids := make(map[constraint.ParticipantID]bool)
	for p := range a.Responses {
		ids[p] = true
	}
	for p := range b.Responses {
		ids[p] = true
	}
	for p := range ids {
		from, to := a.Responses[p].Type, b.Responses[p].Type
		if from != to {
			d.Responses = append(d.Responses, ResponseChange{Participant: p, From: from, To: to})
		}
	}
	sort.Slice(d.Responses, func(i, j int) bool { return d.Responses[i].Participant < d.Responses[j].Participant })

	before := make(map[string]bool)
	for _, t := range a.Tensions {
		before[t.Description] = true
	}
	after := make(map[string]bool)
	for _, t := range b.Tensions {
		after[t.Description] = true
		if !before[t.Description] {
			d.NewTensions = append(d.NewTensions, t.Description)
		}
	}
	for _, t := range a.Tensions {
		if !after[t.Description] {
			d.ResolvedTensions = append(d.ResolvedTensions, t.Description)
		}
	}
	return d
}
