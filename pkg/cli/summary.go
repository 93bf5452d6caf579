package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/dialogtest/pkg/harness"
)

// Theme defines the summary color scheme.
type Theme struct {
	Pass lipgloss.Color
	Fail lipgloss.Color
	Skip lipgloss.Color
	Dim  lipgloss.Color
}

// DefaultTheme is the default terminal theme.
var DefaultTheme = Theme{
	Pass: lipgloss.Color("#00ff9f"),
	Fail: lipgloss.Color("#ff5f87"),
	Skip: lipgloss.Color("#d7af00"),
	Dim:  lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Pass       lipgloss.Style
	Fail       lipgloss.Style
	Skip       lipgloss.Style
	Dim        lipgloss.Style
	PassBanner lipgloss.Style
	FailBanner lipgloss.Style
	Title      lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	banner := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return Styles{
		Pass:       lipgloss.NewStyle().Foreground(t.Pass),
		Fail:       lipgloss.NewStyle().Foreground(t.Fail),
		Skip:       lipgloss.NewStyle().Foreground(t.Skip),
		Dim:        lipgloss.NewStyle().Foreground(t.Dim),
		PassBanner: banner.Foreground(t.Pass),
		FailBanner: banner.Foreground(t.Fail),
		Title:      lipgloss.NewStyle().Bold(true),
	}
}

// RenderSummary renders a run report as a terminal summary.
func RenderSummary(r *harness.RunReport) string {
	return renderSummary(r, NewStyles(DefaultTheme))
}

func renderSummary(r *harness.RunReport, st Styles) string {
	var b strings.Builder

	verdict := st.PassBanner.Render("PASS")
	if !r.Passed {
		verdict = st.FailBanner.Render("FAIL")
	}
	b.WriteString(verdict + " " + st.Title.Render(r.Name) + "\n")

	passed, failed, skipped := r.Counts()
	elapsed := r.FinishedAt.Sub(r.StartedAt)
	b.WriteString(st.Dim.Render(fmt.Sprintf("run %s  %s", r.ID, FormatDuration(elapsed))))
	b.WriteString(fmt.Sprintf("  %s", st.Pass.Render(fmt.Sprintf("%d passed", passed))))
	if failed > 0 {
		b.WriteString(fmt.Sprintf("  %s", st.Fail.Render(fmt.Sprintf("%d failed", failed))))
	}
	if skipped > 0 {
		b.WriteString(fmt.Sprintf("  %s", st.Skip.Render(fmt.Sprintf("%d skipped", skipped))))
	}
	b.WriteString("\n\n")

	for _, d := range r.Dialogs {
		b.WriteString(renderDialog(&d, st))
	}
	return b.String()
}

func renderDialog(d *harness.DialogResult, st Styles) string {
	var b strings.Builder

	switch {
	case d.Skipped:
		b.WriteString("  " + st.Skip.Render("-") + " " + d.ID)
		b.WriteString("  " + st.Dim.Render("skipped") + "\n")
		return b.String()
	case d.Passed:
		b.WriteString("  " + st.Pass.Render("✓") + " " + d.ID)
	default:
		b.WriteString("  " + st.Fail.Render("✗") + " " + d.ID)
	}

	ok := 0
	for _, t := range d.Turns {
		if t.Passed {
			ok++
		}
	}
	b.WriteString("  " + st.Dim.Render(fmt.Sprintf("%d/%d turns", ok, len(d.Turns))))
	if d.Description != "" {
		b.WriteString("  " + st.Dim.Render(d.Description))
	}
	b.WriteString("\n")

	for _, t := range d.Turns {
		if t.Passed {
			continue
		}
		b.WriteString(renderTurn(&t, st))
	}
	return b.String()
}

func renderTurn(t *harness.TurnResult, st Styles) string {
	var b strings.Builder
	b.WriteString("      " + st.Fail.Render(fmt.Sprintf("turn %d", t.Index)))
	if t.Input != "" {
		b.WriteString(" " + st.Dim.Render(truncate(t.Input, 48)))
	}
	b.WriteString("\n")
	if t.Error != "" {
		b.WriteString("        " + st.Fail.Render(t.Error) + "\n")
	}
	for _, f := range t.Check.Failures {
		b.WriteString("        " + st.Dim.Render(f) + "\n")
	}
	if t.Verdict != nil && !t.Verdict.Pass {
		b.WriteString("        " + st.Dim.Render("judge: "+t.Verdict.Reason) + "\n")
	}
	return b.String()
}

// truncate shortens a string to the given display width.
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	w := 0
	for i, r := range runes {
		rw := lipgloss.Width(string(r))
		if w+rw > width-1 {
			return string(runes[:i]) + "…"
		}
		w += rw
	}
	return s
}
