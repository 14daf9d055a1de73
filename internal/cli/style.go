package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/runoshun/autocrew/internal/domain"
)

// Status colors.
var (
	colorBacklog  = lipgloss.Color("#808080")
	colorProgress = lipgloss.Color("#5FAFFF")
	colorWaiting  = lipgloss.Color("#FFAF00")
	colorVerified = lipgloss.Color("#5FD75F")
	colorFailed   = lipgloss.Color("#FF5F5F")
	colorStage    = lipgloss.Color("#AF87FF")
)

// styler renders status labels, in color only when writing to a terminal.
type styler struct {
	color bool
}

// newStyler detects whether w is a terminal.
func newStyler(w io.Writer) styler {
	f, ok := w.(*os.File)
	if !ok {
		return styler{}
	}
	fd := f.Fd()
	return styler{color: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

// statusWidth is the padded width of a status cell. Colored cells are padded
// here rather than by tabwriter, which would count the escape sequences.
const statusWidth = 18

// Status renders a status label padded to statusWidth.
func (s styler) Status(st domain.Status) string {
	if !s.color {
		return fmt.Sprintf("%-*s", statusWidth, st)
	}
	return lipgloss.NewStyle().Foreground(statusColor(st)).Width(statusWidth).Render(string(st))
}

// Label renders a status without padding.
func (s styler) Label(st domain.Status) string {
	if !s.color {
		return string(st)
	}
	return lipgloss.NewStyle().Foreground(statusColor(st)).Render(string(st))
}

// Bold renders a heading.
func (s styler) Bold(text string) string {
	if !s.color {
		return text
	}
	return lipgloss.NewStyle().Bold(true).Render(text)
}

func statusColor(st domain.Status) lipgloss.Color {
	switch {
	case st.IsStage():
		return colorStage
	case st == domain.StatusInProgress:
		return colorProgress
	case st == domain.StatusWaitingApproval:
		return colorWaiting
	case st == domain.StatusVerified:
		return colorVerified
	case st == domain.StatusFailed:
		return colorFailed
	default:
		return colorBacklog
	}
}
