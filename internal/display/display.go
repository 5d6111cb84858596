// Package display renders the live transcript and usage panel while a
// dictation session runs. It is presentation only: partial transcripts land
// here and nowhere else.
package display

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/speechtext/speechtext/internal/transcription"
)

var (
	colorAccent  = lipgloss.Color("#06B6D4")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#94A3B8")

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	styleTranscript = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1).
			Width(72)

	stylePartial = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	styleFinal = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleUsage = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWarning).
			Padding(0, 1).
			Width(72)

	styleHint = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// Display repaints the terminal on every transcript or usage update. Safe
// for concurrent use; all updates funnel through one mutex.
type Display struct {
	mu      sync.Mutex
	out     *termenv.Output
	enabled bool

	header  string
	partial string
	finals  []string
	usage   transcription.Usage
	status  string
}

// New creates a display. When enabled is false, or stdout is not a
// terminal, every method is a no-op and the log output stays readable.
func New(enabled bool, header string) *Display {
	out := termenv.NewOutput(os.Stdout)
	return &Display{
		out:     out,
		enabled: enabled && termenv.ColorProfile() != termenv.Ascii,
		header:  header,
	}
}

func (d *Display) Partial(text string) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.partial = text
	d.render()
	d.mu.Unlock()
}

func (d *Display) Final(text string) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.partial = ""
	d.finals = append(d.finals, text)
	if len(d.finals) > 5 {
		d.finals = d.finals[len(d.finals)-5:]
	}
	d.render()
	d.mu.Unlock()
}

func (d *Display) SetStatus(status string) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.status = status
	d.render()
	d.mu.Unlock()
}

func (d *Display) SetUsage(usage transcription.Usage) {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.usage = usage
	d.render()
	d.mu.Unlock()
}

// render repaints the whole screen. Callers hold the mutex.
func (d *Display) render() {
	d.out.ClearScreen()

	var b strings.Builder
	b.WriteString(styleTitle.Render(d.header))
	if d.status != "" {
		b.WriteString("  " + styleHint.Render("["+d.status+"]"))
	}
	b.WriteString("\n\n")

	var lines []string
	for _, f := range d.finals {
		lines = append(lines, styleFinal.Render(f))
	}
	if d.partial != "" {
		lines = append(lines, stylePartial.Render(d.partial))
	}
	if len(lines) == 0 {
		lines = append(lines, styleHint.Render("listening..."))
	}
	b.WriteString(styleTranscript.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	b.WriteString(styleUsage.Render(usageTable(d.usage)))
	b.WriteString("\n")
	b.WriteString(styleHint.Render("Press Ctrl+C to stop"))
	b.WriteString("\n")

	fmt.Fprint(d.out, b.String())
}

func usageTable(u transcription.Usage) string {
	rows := [][2]string{
		{"Audio duration", fmt.Sprintf("%.2f s", u.AudioSeconds)},
		{"Billable units", fmt.Sprintf("%d (15-second chunks)", u.BillableChunks)},
		{"Estimated cost", fmt.Sprintf("$%.4f USD", u.EstimatedCostUSD)},
		{"Transcriptions", fmt.Sprintf("%d", u.FinalCount)},
		{"Characters", fmt.Sprintf("%d", u.TotalCharacters)},
		{"Session time", fmtElapsed(u.Elapsed)},
	}

	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("%-16s %s", row[0], row[1]))
	}
	return b.String()
}

func fmtElapsed(d time.Duration) string {
	return fmt.Sprintf("%.1f s", d.Seconds())
}

// Summary returns the end-of-session usage report printed after the screen
// is released.
func Summary(u transcription.Usage) string {
	var b strings.Builder
	b.WriteString("Session summary:\n")
	b.WriteString(fmt.Sprintf("  audio duration:  %.2f s\n", u.AudioSeconds))
	b.WriteString(fmt.Sprintf("  billable chunks: %d\n", u.BillableChunks))
	b.WriteString(fmt.Sprintf("  estimated cost:  $%.4f USD\n", u.EstimatedCostUSD))
	b.WriteString(fmt.Sprintf("  transcriptions:  %d\n", u.FinalCount))
	return b.String()
}
