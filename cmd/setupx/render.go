// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"setupx-cli/internal/config"
	"setupx-cli/internal/issue"
	"setupx-cli/internal/supervisor"
)

// styleFor maps the configured color scheme to a glamour style name.
func styleFor(cfg *config.Config) string {
	if cfg != nil && cfg.UI.ColorScheme == config.ColorSchemeLight {
		return "light"
	}
	return "dark"
}

// renderIssue writes a rendered issue card to w. Rendering failures fall
// back to the raw markdown so the message is never lost.
func renderIssue(w io.Writer, id issue.Id, style string) {
	card := issue.Get(id)
	rendered, err := card.Render(style)
	if err != nil {
		rendered = string(card.MarkdownMsg()) + "\n"
	}
	fmt.Fprint(w, rendered)
}

// renderReport writes the per-interpreter attempt summary to w. With
// verbose set it includes each attempt's captured stderr tail.
func renderReport(w io.Writer, report *supervisor.Report, verbose bool) {
	if report == nil || len(report.Attempts) == 0 {
		return
	}

	fmt.Fprintln(w, SubtitleStyle.Render("Attempts:"))
	for _, a := range report.Attempts {
		fmt.Fprintf(w, "  %s  %s%s\n",
			CmdStyle.Render(a.Interpreter),
			statusStyle(a.Status).Render(string(a.Status)),
			attemptDetail(a),
		)
		if verbose && a.StderrTail != "" {
			for _, line := range strings.Split(strings.TrimRight(a.StderrTail, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", VerboseStyle.Render(line))
			}
		}
	}
}

func statusStyle(status supervisor.AttemptStatus) lipgloss.Style {
	switch status {
	case supervisor.StatusSucceeded:
		return SuccessStyle
	case supervisor.StatusTimedOut:
		return WarningStyle
	default:
		return ErrorStyle
	}
}

func attemptDetail(a supervisor.Attempt) string {
	detail := fmt.Sprintf(" (%s)", a.Duration.Round(time.Millisecond))
	if a.Status == supervisor.StatusFailed {
		detail = fmt.Sprintf(" (exit %d, %s)", a.ExitCode, a.Duration.Round(time.Millisecond))
	}
	return SubtitleStyle.Render(detail)
}
