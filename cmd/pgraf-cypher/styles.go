package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	cypher "github.com/pgraf/go-cypher"
)

// Diagnostic colors.
var (
	colorError  = lipgloss.Color("#ef4444") // red-500
	colorAccent = lipgloss.Color("#3b82f6") // blue-500
	colorDim    = lipgloss.Color("#6b7280") // gray-500
)

// styles holds the lipgloss styles for diagnostic rendering.
type styles struct {
	Error  lipgloss.Style
	Accent lipgloss.Style
	Dim    lipgloss.Style
}

func newStyles(color bool) *styles {
	s := &styles{
		Error:  lipgloss.NewStyle(),
		Accent: lipgloss.NewStyle(),
		Dim:    lipgloss.NewStyle(),
	}

	if color {
		s.Error = s.Error.Foreground(colorError).Bold(true)
		s.Accent = s.Accent.Foreground(colorAccent)
		s.Dim = s.Dim.Foreground(colorDim)
	}

	return s
}

func stderrStyles() *styles {
	return newStyles(isatty.IsTerminal(os.Stderr.Fd()))
}

// renderDiagnostic formats a pipeline error with the offending source line
// and a caret marker under the span.
func renderDiagnostic(source string, err error) string {
	diag, ok := err.(cypher.Diagnoser)
	if !ok {
		return "error: " + err.Error()
	}

	s := stderrStyles()
	d := diag.Diagnostic()

	var b strings.Builder

	b.WriteString(s.Error.Render(fmt.Sprintf("error[%s]", d.Kind)))
	b.WriteString(": " + d.Message + "\n")
	b.WriteString(s.Dim.Render(fmt.Sprintf("  --> %d:%d", d.Line, d.Column)) + "\n")

	lines := strings.Split(source, "\n")
	if d.Line >= 1 && d.Line <= len(lines) {
		line := lines[d.Line-1]

		b.WriteString(s.Dim.Render("   | ") + line + "\n")

		width := d.EndOffset - d.StartOffset
		if width < 1 {
			width = 1
		}

		if width > len(line)-d.Column+1 {
			width = max(len(line)-d.Column+1, 1)
		}

		b.WriteString(s.Dim.Render("   | "))
		b.WriteString(strings.Repeat(" ", d.Column-1))
		b.WriteString(s.Accent.Render(strings.Repeat("^", width)))
	}

	return b.String()
}
