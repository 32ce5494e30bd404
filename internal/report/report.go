// Package report renders the end-of-run summary. Styled output is used when
// the target is a terminal; pipes and CI logs get plain text.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hostplane/provision/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	appliedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dryRunStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Summary aggregates one run's results.
type Summary struct {
	Applied    int
	Skipped    int
	Failed     int
	WouldApply int
	Duration   time.Duration
	Results    []model.ActionResult
}

// Summarize folds per-action results into a Summary.
func Summarize(results []model.ActionResult, duration time.Duration) Summary {
	s := Summary{Duration: duration, Results: results}
	for _, res := range results {
		switch res.Status {
		case model.StatusApplied:
			s.Applied++
		case model.StatusSkipped:
			s.Skipped++
		case model.StatusFailed:
			s.Failed++
		case model.StatusWouldApply:
			s.WouldApply++
		}
	}
	return s
}

// HasFailures reports whether any action failed, including non-fatal ones.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Render writes the summary to out, styling it when out is a terminal.
func Render(out io.Writer, s Summary) {
	styled := isTerminal(out)
	fmt.Fprintln(out, renderString(s, styled))
}

func renderString(s Summary, styled bool) string {
	var b strings.Builder

	b.WriteString(style(titleStyle, "run summary", styled))
	b.WriteString("\n")

	for _, res := range s.Results {
		line := fmt.Sprintf("  %-12s %-24s %s", res.Status, res.ActionID, res.Message)
		switch res.Status {
		case model.StatusApplied:
			line = style(appliedStyle, line, styled)
		case model.StatusSkipped:
			line = style(skippedStyle, line, styled)
		case model.StatusFailed:
			line = style(failedStyle, line, styled)
		case model.StatusWouldApply:
			line = style(dryRunStyle, line, styled)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	counts := fmt.Sprintf("applied %d, skipped %d, failed %d", s.Applied, s.Skipped, s.Failed)
	if s.WouldApply > 0 {
		counts = fmt.Sprintf("would apply %d, skipped %d, failed %d", s.WouldApply, s.Skipped, s.Failed)
	}
	b.WriteString(fmt.Sprintf("%s in %s", counts, s.Duration.Round(time.Millisecond)))

	return b.String()
}

func style(st lipgloss.Style, text string, styled bool) string {
	if !styled {
		return text
	}
	return st.Render(text)
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
