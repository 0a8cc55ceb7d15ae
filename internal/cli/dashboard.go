package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"tape-restorer/internal/pipeline"
	"tape-restorer/internal/stage"
)

var (
	dashStageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// dashboard rewrites one progress line in place, teletext style, and
// prints lifecycle notices on their own lines.
type dashboard struct {
	w        io.Writer
	bar      progress.Model
	lastLine int
}

func newDashboard(w io.Writer) *dashboard {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	return &dashboard{w: w, bar: bar}
}

func (d *dashboard) render(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventProgress:
		line := fmt.Sprintf("%s %s %5.1f%%",
			dashStageStyle.Render(ev.Stage),
			d.bar.ViewAs(ev.OverallFraction),
			ev.OverallFraction*100,
		)
		if ev.FPS > 0 {
			line += dashMutedStyle.Render(fmt.Sprintf("  %.1f fps", ev.FPS))
		}
		if ev.ETA > 0 {
			line += dashMutedStyle.Render("  ETA " + stage.FormatETA(ev.ETA))
		}
		d.overwrite(line)
	case pipeline.EventWarning:
		d.clearLine()
		fmt.Fprintln(d.w, dashWarnStyle.Render("warning:"), ev.Message)
	default:
		d.clearLine()
		fmt.Fprintln(d.w, ev.Message)
	}
}

func (d *dashboard) overwrite(line string) {
	fmt.Fprint(d.w, "\r"+line+strings.Repeat(" ", max(0, d.lastLine-lipgloss.Width(line))))
	d.lastLine = lipgloss.Width(line)
}

func (d *dashboard) clearLine() {
	if d.lastLine > 0 {
		fmt.Fprint(d.w, "\r"+strings.Repeat(" ", d.lastLine)+"\r")
		d.lastLine = 0
	}
}

func (d *dashboard) finish() {
	if d.lastLine > 0 {
		fmt.Fprintln(d.w)
		d.lastLine = 0
	}
}
