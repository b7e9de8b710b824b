package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	codeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	locationStyle = lipgloss.NewStyle().Faint(true)
	summaryStyle  = lipgloss.NewStyle().Bold(true)
)

// Renderer writes diagnostics for a terminal or a plain log.
type Renderer struct {
	// Color enables lipgloss styling.
	Color bool
}

// Render writes one line per diagnostic plus a trailing summary, and a
// "see also" line for every extra location.
func (r Renderer) Render(w io.Writer, ds []Diagnostic) error {
	for _, d := range ds {
		if _, err := fmt.Fprintf(w, "%s: %s %s: %s\n",
			r.style(locationStyle, d.Position().String()),
			r.severity(d.Severity),
			r.style(codeStyle, string(d.Code)),
			d.Message); err != nil {
			return err
		}
		for _, loc := range d.Locations[min(1, len(d.Locations)):] {
			if _, err := fmt.Fprintf(w, "\t%s\n", r.style(locationStyle, "see also "+loc.String())); err != nil {
				return err
			}
		}
	}
	errs, warns := Counts(ds)
	_, err := fmt.Fprintln(w, r.style(summaryStyle, fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)))
	return err
}

// RenderCodes writes the catalogue as a table.
func (r Renderer) RenderCodes(w io.Writer) error {
	var b strings.Builder
	for _, d := range Codes() {
		fmt.Fprintf(&b, "%s  %-7s  %s\n", r.style(codeStyle, string(d.Code)), d.Severity, d.Title)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (r Renderer) severity(s Severity) string {
	if s == Warning {
		return r.style(warningStyle, s.String())
	}
	return r.style(errorStyle, s.String())
}

func (r Renderer) style(st lipgloss.Style, s string) string {
	if !r.Color {
		return s
	}
	return st.Render(s)
}
