package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/attachview/internal/store"
)

// Stat is one labeled value in a summary block.
type Stat struct {
	Label string
	Value any
}

// Printer writes human-readable command output.
// Errors from writing are intentionally ignored for console output.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a printer. Colors are used only if noColor is false.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	return &Printer{out: out, styles: GetStyles(noColor)}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	p.status(p.styles.Success, "✓", fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.status(p.styles.Warning, "!", fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.status(p.styles.Error, "✗", fmt.Sprintf(format, args...))
}

// Info prints an unadorned line.
func (p *Printer) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) status(style lipgloss.Style, icon, msg string) {
	_, _ = fmt.Fprintf(p.out, "%s %s\n", style.Render(icon), msg)
}

// Rows prints view rows as an aligned table in the given order.
func (p *Printer) Rows(rows []store.IndexRow) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(p.out, p.styles.Dim.Render("(no rows)"))
		return
	}

	headers := [3]string{"FILENAME", "LENGTH", "DOCUMENT"}
	cells := make([][3]string, len(rows))
	widths := [3]int{len(headers[0]), len(headers[1]), len(headers[2])}
	for i, r := range rows {
		cells[i] = [3]string{r.Key.Filename, strconv.FormatInt(r.Key.Length, 10), r.Key.DocumentID}
		for c, s := range cells[i] {
			widths[c] = max(widths[c], lipgloss.Width(s))
		}
	}

	p.tableLine(p.styles.Header, headers, widths)
	for _, row := range cells {
		p.tableLine(p.styles.Key, row, widths)
	}
}

func (p *Printer) tableLine(style lipgloss.Style, cols [3]string, widths [3]int) {
	name := style.Render(cols[0]) + gap(cols[0], widths[0])
	length := padLeft(cols[1], widths[1])
	_, _ = fmt.Fprintf(p.out, "%s  %s  %s\n", name, length, cols[2])
}

// RowsJSON prints one JSON object per row.
func (p *Printer) RowsJSON(rows []store.IndexRow) error {
	enc := json.NewEncoder(p.out)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Delta prints retracted rows prefixed with "-" and added rows with "+".
// Empty deltas print nothing.
func (p *Printer) Delta(d *store.Delta) {
	if d.Empty() {
		return
	}
	for _, r := range d.Remove {
		_, _ = fmt.Fprintf(p.out, "%s %s\n", p.styles.Removed.Render("-"), r.Key)
	}
	for _, r := range d.Add {
		_, _ = fmt.Fprintf(p.out, "%s %s\n", p.styles.Added.Render("+"), r.Key)
	}
}

// Summary prints a titled block of labeled values.
func (p *Printer) Summary(title string, stats []Stat) {
	_, _ = fmt.Fprintln(p.out, p.styles.Header.Render(title))

	width := 0
	for _, s := range stats {
		width = max(width, len(s.Label)+1)
	}
	for _, s := range stats {
		label := p.styles.Label.Render(s.Label+":") + gap(s.Label+":", width)
		_, _ = fmt.Fprintf(p.out, "  %s %s\n", label, formatValue(s.Value))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case time.Duration:
		return v.Round(time.Millisecond).String()
	case bool:
		if v {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(v)
	}
}

// gap returns the spaces that pad s to width. Padding stays outside the
// style so styled cells keep their alignment.
func gap(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return strings.Repeat(" ", width-n)
	}
	return ""
}

func padLeft(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}
