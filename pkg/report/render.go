package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/triflow-ai/smoke/pkg/engine"
)

const (
	glyphPassed = "✓"
	glyphFailed = "✗"
	glyphStep   = "·"
)

var (
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorCyan  = lipgloss.Color("51")
	colorDim   = lipgloss.Color("240")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	passedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	failedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

// Render writes a terminal summary of out.
func Render(w io.Writer, out *engine.Outcome) error {
	p := NewPayload(out)

	var b strings.Builder
	b.WriteString(titleStyle.Render(engine.ScenarioName))
	b.WriteString("  ")
	if p.OK {
		b.WriteString(passedStyle.Render(glyphPassed + " passed"))
	} else {
		b.WriteString(failedStyle.Render(glyphFailed + " failed"))
	}
	b.WriteString("\n\n")

	for i, step := range p.Steps {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render(fmt.Sprintf("%2d %s", i+1, glyphStep)), step)
	}
	if len(p.Steps) == 0 {
		b.WriteString(dimStyle.Render("no steps recorded") + "\n")
	}

	if out != nil {
		b.WriteString("\n")
		if p.OpportunityID != "" {
			fmt.Fprintf(&b, "opportunity  %s\n", p.OpportunityID)
		}
		if !p.OK {
			fmt.Fprintf(&b, "kind         %s\n", out.Kind)
			fmt.Fprintf(&b, "stage        %s\n", out.FailedStage)
			fmt.Fprintf(&b, "error        %s\n", failedStyle.Render(p.Error))
		}
		if out.ScreenshotPath != "" {
			fmt.Fprintf(&b, "screenshot   %s\n", out.ScreenshotPath)
		}
		if out.ManifestPath != "" {
			fmt.Fprintf(&b, "manifest     %s\n", out.ManifestPath)
		}
		fmt.Fprintf(&b, "duration     %s\n", out.Duration.Round(time.Millisecond))
	}

	_, err := fmt.Fprintln(w, panelStyle.Render(strings.TrimRight(b.String(), "\n")))
	return err
}

// Markdown formats out as a markdown report.
func Markdown(out *engine.Outcome) string {
	p := NewPayload(out)

	var b strings.Builder
	status := "passed"
	if !p.OK {
		status = "failed"
	}
	fmt.Fprintf(&b, "# %s: %s\n\n", engine.ScenarioName, status)

	if out != nil {
		b.WriteString("| field | value |\n|---|---|\n")
		if out.RunID != "" {
			fmt.Fprintf(&b, "| run | `%s` |\n", out.RunID)
		}
		if p.OpportunityID != "" {
			fmt.Fprintf(&b, "| opportunity | `%s` |\n", p.OpportunityID)
		}
		if !p.OK {
			fmt.Fprintf(&b, "| kind | %s |\n", out.Kind)
			fmt.Fprintf(&b, "| stage | %s |\n", out.FailedStage)
		}
		if out.Verification != nil {
			fmt.Fprintf(&b, "| rows / cards | %d / %d |\n", out.Verification.Rows, out.Verification.Cards)
		}
		fmt.Fprintf(&b, "| duration | %s |\n", out.Duration.Round(time.Millisecond))
		b.WriteString("\n")
	}

	b.WriteString("## Steps\n\n")
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if len(p.Steps) == 0 {
		b.WriteString("_none_\n")
	}

	if !p.OK {
		fmt.Fprintf(&b, "\n## Error\n\n```\n%s\n```\n", p.Error)
	}
	return b.String()
}

// RenderMarkdown renders Markdown(out) for the terminal, falling back to the
// raw markdown when glamour cannot render it.
func RenderMarkdown(w io.Writer, out *engine.Outcome, width int) error {
	md := Markdown(out)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		if rendered, rerr := r.Render(md); rerr == nil {
			md = rendered
		}
	}
	_, err = io.WriteString(w, md)
	return err
}
