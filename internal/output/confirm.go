package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptStyle selects how a confirmation prompt looks.
type PromptStyle int

const (
	PromptNeutral PromptStyle = iota
	// PromptDestructive is for deleting stored runs and similar.
	PromptDestructive
)

// Prompt is a yes/no question asked on w and answered on r.
type Prompt struct {
	Question string
	Style    PromptStyle
	// DefaultYes makes an empty answer mean yes.
	DefaultYes bool
	// AssumeYes skips the question entirely, as --yes does.
	AssumeYes bool
}

// Ask writes the question and reads one line. Anything other than y or
// yes (or an empty line with DefaultYes) declines.
func (p Prompt) Ask(w io.Writer, r io.Reader) bool {
	if p.AssumeYes {
		return true
	}
	pal := PaletteFor(w)
	icon, question := pal.Accent.Render("?"), pal.Info.Render(p.Question)
	if p.Style == PromptDestructive {
		icon, question = pal.Warning.Render("⚠"), pal.Warning.Render(p.Question)
	}
	hint := "[y/N]"
	if p.DefaultYes {
		hint = "[Y/n]"
	}
	fmt.Fprintf(w, "%s %s %s ", icon, question, pal.Muted.Render(hint))

	answer, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return p.DefaultYes
	case "y", "yes":
		return true
	}
	return false
}

// ConfirmDestructive asks a destructive question that defaults to no.
func ConfirmDestructive(w io.Writer, r io.Reader, question string, assumeYes bool) bool {
	return Prompt{Question: question, Style: PromptDestructive, AssumeYes: assumeYes}.Ask(w, r)
}
