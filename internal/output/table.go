package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// StyledTable writes aligned columns with a styled header row. Cells wider
// than MaxCellWidth are truncated with an ellipsis.
type StyledTable struct {
	w            io.Writer
	headers      []string
	rows         [][]string
	footer       string
	palette      Palette
	ShowBorder   bool
	MaxCellWidth int
}

// NewStyledTableWriter creates a table writing to w.
func NewStyledTableWriter(w io.Writer, headers ...string) *StyledTable {
	return &StyledTable{
		w:            w,
		headers:      headers,
		palette:      PaletteFor(w),
		MaxCellWidth: 48,
	}
}

// AddRow appends a row. Missing cells render empty.
func (t *StyledTable) AddRow(cells ...string) *StyledTable {
	t.rows = append(t.rows, cells)
	return t
}

// WithFooter sets a line printed under the table.
func (t *StyledTable) WithFooter(footer string) *StyledTable {
	t.footer = footer
	return t
}

// WithBorder draws a rule under the header and above the footer.
func (t *StyledTable) WithBorder(show bool) *StyledTable {
	t.ShowBorder = show
	return t
}

// WithPalette overrides the palette picked from the writer.
func (t *StyledTable) WithPalette(p Palette) *StyledTable {
	t.palette = p
	return t
}

// RowCount returns the number of rows added.
func (t *StyledTable) RowCount() int {
	return len(t.rows)
}

func (t *StyledTable) cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	s := strings.ReplaceAll(row[i], "\n", " ")
	if t.MaxCellWidth > 0 && runewidth.StringWidth(s) > t.MaxCellWidth {
		s = runewidth.Truncate(s, t.MaxCellWidth, "…")
	}
	return s
}

// Render writes the table. A table without headers writes nothing.
func (t *StyledTable) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i := range t.headers {
			if w := runewidth.StringWidth(t.cell(row, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style func(...string) string) string {
		parts := make([]string, len(t.headers))
		for i := range t.headers {
			padded := runewidth.FillRight(t.cell(cells, i), widths[i])
			if style != nil {
				padded = style(padded)
			}
			parts[i] = padded
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	total := 2 * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	rule := t.palette.Border.Render(strings.Repeat("─", total))

	fmt.Fprintln(t.w, line(t.headers, t.palette.Header.Render))
	if t.ShowBorder {
		fmt.Fprintln(t.w, rule)
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.w, line(row, nil))
	}
	if t.footer != "" {
		if t.ShowBorder {
			fmt.Fprintln(t.w, rule)
		}
		fmt.Fprintln(t.w, t.palette.Muted.Render(t.footer))
	}
}
