package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/convergence"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/record"
	"github.com/Dicklesworthstone/accord/internal/response"
	"github.com/Dicklesworthstone/accord/internal/satisfaction"
)

func sampleRun() *convergence.RunState {
	start := time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC)
	tally := response.Tally{Accept: 1, Object: 1}
	round := convergence.Round{
		Index:    1,
		Combined: proposal.Proposal{Content: "Taqueria on 5th street", Rationale: "cheap and close"},
		Tensions: []proposal.Tension{{Description: "bob needs vegan food", ConstraintsInvolved: []string{"vegan"}}},
		Responses: map[constraint.ParticipantID]response.Response{
			"alice": {Participant: "alice", Type: response.TypeAccept, Confidence: satisfaction.ConfidenceHigh},
			"bob":   {Participant: "bob", Type: response.TypeObject, Confidence: satisfaction.ConfidenceLow, Reason: "vegan violated"},
		},
		Tally:    tally,
		Attempts: 1,
	}
	fork := &convergence.RunState{
		ID:           "run-1-a",
		ParentID:     "run-1",
		Depth:        1,
		Outcome:      "dinner",
		Participants: []constraint.ParticipantID{"alice"},
		Status:       convergence.StatusConverged,
		Result:       &convergence.Result{Status: convergence.StatusConverged, Reason: convergence.ReasonConsensus},
	}
	return &convergence.RunState{
		ID:           "run-1",
		Outcome:      "dinner",
		Participants: []constraint.ParticipantID{"alice", "bob"},
		Status:       convergence.StatusDiverged,
		History:      []convergence.Round{round},
		Quarantined: []constraint.Quarantined{{
			Owner:  "carol",
			Raw:    constraint.RawTag{Text: "no loud bars", Priority: "urgent"},
			Reason: "unknown priority",
		}},
		Forks: []*convergence.RunState{fork},
		Result: &convergence.Result{
			Status:             convergence.StatusDiverged,
			Reason:             convergence.ReasonMaxRounds,
			Rounds:             1,
			Tally:              tally,
			AcceptanceRate:     0.5,
			UnresolvedTensions: round.Tensions,
			ViolatedNonNegotiables: []convergence.ViolatedConstraint{
				{Participant: "bob", Constraint: "vegan", Outcome: "violated"},
			},
		},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"table", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"md", FormatMarkdown, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if FormatMarkdown.IsStructured() || !FormatYAML.IsStructured() {
		t.Error("IsStructured misreports")
	}
}

func TestMarshalJSON(t *testing.T) {
	data := map[string]string{"plan": "<dinner> & drinks"}

	compact, err := MarshalJSON(data, false)
	if err != nil {
		t.Fatalf("MarshalJSON(compact): %v", err)
	}
	if strings.Contains(string(compact), "\n") {
		t.Errorf("compact JSON has newlines: %s", compact)
	}
	if !strings.Contains(string(compact), "<dinner> & drinks") {
		t.Errorf("HTML was escaped: %s", compact)
	}

	pretty, err := MarshalJSON(data, true)
	if err != nil {
		t.Fatalf("MarshalJSON(pretty): %v", err)
	}
	if !strings.Contains(string(pretty), "\n  ") {
		t.Errorf("pretty JSON not indented: %s", pretty)
	}
}

func TestStyledTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewStyledTableWriter(&buf, "NAME", "STATUS", "ROUNDS")
	if tbl.AddRow("alice", "accept", "2") != tbl {
		t.Error("AddRow should return the table for chaining")
	}
	tbl.AddRow("bob").WithFooter("2 participants").WithBorder(true)
	tbl.Render()

	out := buf.String()
	for _, want := range []string{"NAME", "alice", "bob", "2 participants", "─"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if tbl.RowCount() != 2 {
		t.Errorf("RowCount() = %d, want 2", tbl.RowCount())
	}
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[2], "alice  accept") {
		t.Errorf("columns not aligned: %q", lines[2])
	}

	buf.Reset()
	NewStyledTableWriter(&buf).Render()
	if buf.Len() != 0 {
		t.Error("a table without headers should write nothing")
	}

	buf.Reset()
	narrow := NewStyledTableWriter(&buf, "TEXT")
	narrow.MaxCellWidth = 5
	narrow.AddRow("somewhere quiet").Render()
	if !strings.Contains(buf.String(), "some…") {
		t.Errorf("wide cell not truncated: %q", buf.String())
	}
}

func TestCLIErrors(t *testing.T) {
	err := InvalidFlagError("format", "csv", "one of: text, json, yaml, markdown")
	if err.Code != "INVALID_FLAG" || !strings.Contains(err.Error(), "--format") || !strings.Contains(err.Error(), "csv") {
		t.Errorf("InvalidFlagError = %+v", err)
	}

	cause := errors.New("yaml: line 3: bad indent")
	loadErr := ScenarioLoadError("dinner.yaml", cause)
	if !errors.Is(loadErr, cause) {
		t.Error("ScenarioLoadError should wrap its cause")
	}

	var buf bytes.Buffer
	if err := WriteError(&buf, RunNotFoundError("run-9"), FormatJSON); err != nil {
		t.Fatalf("WriteError(json): %v", err)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "RUN_NOT_FOUND" || !strings.Contains(resp.Details, "history list") {
		t.Errorf("error envelope = %+v", resp)
	}

	buf.Reset()
	if err := WriteError(&buf, errors.New("boom"), FormatText); err != nil {
		t.Fatalf("WriteError(text): %v", err)
	}
	if buf.String() != "error: boom\n" {
		t.Errorf("text error = %q", buf.String())
	}
}

func TestNewRunResponse(t *testing.T) {
	resp := NewRunResponse(sampleRun())
	if resp.Status != convergence.StatusDiverged || resp.Reason != convergence.ReasonMaxRounds {
		t.Errorf("status = %s (%s)", resp.Status, resp.Reason)
	}
	if resp.Plan != "Taqueria on 5th street" || resp.DurationMs != 1500 || resp.Quarantined != 1 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Violations) != 1 || resp.Violations[0] != "bob: vegan" {
		t.Errorf("violations = %v", resp.Violations)
	}
	if len(resp.Forks) != 1 || resp.Forks[0].ParentID != "run-1" {
		t.Errorf("forks = %+v", resp.Forks)
	}
	if NewRunResponse(nil).ID != "" {
		t.Error("nil run should give the zero response")
	}
}

func TestRenderRun(t *testing.T) {
	st := sampleRun()

	var buf bytes.Buffer
	if err := RenderRun(&buf, st, FormatJSON); err != nil {
		t.Fatalf("RenderRun(json): %v", err)
	}
	var resp RunResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != "run-1" || resp.Tally.Object != 1 {
		t.Errorf("json run = %+v", resp)
	}

	buf.Reset()
	if err := RenderRun(&buf, st, FormatYAML); err != nil {
		t.Fatalf("RenderRun(yaml): %v", err)
	}
	if !strings.Contains(buf.String(), "generated_at:") || !strings.Contains(buf.String(), "status: diverged") {
		t.Errorf("yaml run:\n%s", buf.String())
	}

	buf.Reset()
	if err := RenderRun(&buf, st, FormatMarkdown); err != nil {
		t.Fatalf("RenderRun(markdown): %v", err)
	}
	md := buf.String()
	for _, want := range []string{
		"# Run run-1",
		"**Status:** diverged (max-rounds)",
		"| 1 | Taqueria on 5th street | 1 | 0 | 1 | 0 |",
		"## Final plan",
		"| bob | object | low | vegan violated |",
		"## Unresolved tensions",
		"- **bob**: vegan (violated)",
		`- **carol**: "no loud bars" (unknown priority)`,
		"## Fork run-1-a",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Index(md, "| alice |") > strings.Index(md, "| bob |") {
		t.Error("responses should be sorted by participant")
	}
}

func TestWriteMarkdownWrapsProse(t *testing.T) {
	long := strings.Repeat("word ", 40)
	row := "| " + strings.Repeat("x", 120) + " |"

	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, long+"\n"+row+"\n"); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 4 {
		t.Fatalf("prose not wrapped: %q", buf.String())
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "word") && len(l) > DefaultWidth {
			t.Errorf("line longer than %d: %q", DefaultWidth, l)
		}
	}
	if !strings.Contains(buf.String(), row) {
		t.Error("table rows must not be wrapped")
	}
}

func TestRenderDiff(t *testing.T) {
	d := record.RoundDiff{
		From:       1,
		To:         2,
		Content:    "- Taqueria on 5th street\n+ Green Leaf\n",
		Similarity: 0.2,
		Responses:  []record.ResponseChange{{Participant: "bob", From: response.TypeObject, To: response.TypeAccept}},
		TallyFrom:  response.Tally{Accept: 1, Object: 1},
		TallyTo:    response.Tally{Accept: 2},
	}
	var buf bytes.Buffer
	if err := RenderDiff(&buf, d, FormatText); err != nil {
		t.Fatalf("RenderDiff: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Round 1 → 2 (20% similar)", "+ Green Leaf", "- Taqueria", "bob: object → accept"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	same := record.RoundDiff{From: 2, To: 2, Similarity: 1}
	if err := RenderDiff(&buf, same, FormatText); err != nil {
		t.Fatalf("RenderDiff: %v", err)
	}
	if !strings.Contains(buf.String(), "no change") {
		t.Errorf("unchanged diff = %q", buf.String())
	}
}

func TestRenderClassificationPutsTopTierFirst(t *testing.T) {
	c := Classification{
		View: satisfaction.View{
			Participant: "bob",
			Confidence:  satisfaction.ConfidenceLow,
			Assessments: []satisfaction.Assessment{
				{Tag: constraint.Tag{Text: "somewhere quiet", Kind: constraint.KindDesire, Intensity: constraint.IntensityWouldLike}, Outcome: satisfaction.Ambiguous},
				{Tag: constraint.Tag{Text: "vegan", Kind: constraint.KindConcern, Severity: constraint.SeverityNonNegotiable}, Outcome: satisfaction.Violated, Evidence: "menu is meat-based"},
			},
		},
		Response: response.Response{Participant: "bob", Type: response.TypeObject, Reason: "a non-negotiable is violated"},
	}
	var buf bytes.Buffer
	if err := RenderClassification(&buf, c, FormatText); err != nil {
		t.Fatalf("RenderClassification: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "response object") || !strings.Contains(out, "menu is meat-based") {
		t.Errorf("classification:\n%s", out)
	}
	if strings.Index(out, "vegan ") > strings.Index(out, "somewhere quiet") {
		t.Errorf("non-negotiable should be listed first:\n%s", out)
	}
}

func TestRenderSummariesAndDiscrepancies(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummaries(&buf, nil, FormatText); err != nil || !strings.Contains(buf.String(), "No runs") {
		t.Errorf("empty listing = %q, %v", buf.String(), err)
	}

	buf.Reset()
	runs := []record.Summary{{ID: "run-1", Outcome: "dinner", Status: convergence.StatusConverged, Rounds: 2}}
	if err := RenderSummaries(&buf, runs, FormatJSON); err != nil {
		t.Fatalf("RenderSummaries(json): %v", err)
	}
	var list ListResponse[record.Summary]
	if err := json.Unmarshal(buf.Bytes(), &list); err != nil || list.Count != 1 || list.Items[0].ID != "run-1" {
		t.Errorf("listing = %+v, %v", list, err)
	}

	buf.Reset()
	if err := RenderDiscrepancies(&buf, "run-1", nil, FormatText); err != nil || !strings.Contains(buf.String(), "replays cleanly") {
		t.Errorf("clean verify = %q, %v", buf.String(), err)
	}
	buf.Reset()
	ds := []record.Discrepancy{{RunID: "run-1", Round: 1, Participant: "bob", Field: "type", Recorded: "accept", Replayed: "object"}}
	if err := RenderDiscrepancies(&buf, "run-1", ds, FormatText); err != nil {
		t.Fatalf("RenderDiscrepancies: %v", err)
	}
	if !strings.Contains(buf.String(), "1 discrepanc(ies)") {
		t.Errorf("discrepancies:\n%s", buf.String())
	}
}

func TestPromptAsk(t *testing.T) {
	tests := []struct {
		name   string
		prompt Prompt
		input  string
		want   bool
	}{
		{"yes", Prompt{Question: "Delete?"}, "y\n", true},
		{"full yes", Prompt{Question: "Delete?"}, "YES\n", true},
		{"no", Prompt{Question: "Delete?"}, "n\n", false},
		{"empty defaults to no", Prompt{Question: "Delete?"}, "\n", false},
		{"empty with default yes", Prompt{Question: "Continue?", DefaultYes: true}, "\n", true},
		{"eof", Prompt{Question: "Delete?"}, "", false},
		{"assume yes", Prompt{Question: "Delete?", AssumeYes: true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if got := tt.prompt.Ask(&out, strings.NewReader(tt.input)); got != tt.want {
				t.Errorf("Ask() = %v, want %v", got, tt.want)
			}
		})
	}

	var out bytes.Buffer
	ConfirmDestructive(&out, strings.NewReader("n\n"), "Delete 3 runs?", false)
	if !strings.Contains(out.String(), "⚠ Delete 3 runs? [y/N]") {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestTerminalDetection(t *testing.T) {
	var buf bytes.Buffer
	if IsTerminal(&buf) || UseColor(&buf) {
		t.Error("a buffer is not a terminal")
	}
	if TerminalWidth(&buf) != DefaultWidth {
		t.Errorf("TerminalWidth(buffer) = %d", TerminalWidth(&buf))
	}
	t.Setenv("NO_COLOR", "1")
	if UseColor(os.Stdout) {
		t.Error("NO_COLOR must disable color")
	}
}
