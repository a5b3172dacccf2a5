// Package ctl implements the client-side commands for complyctl.
// It talks to an evaluation backend over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Terminal styles.
var (
	bold   = lipgloss.NewStyle().Bold(true)
	dim    = lipgloss.NewStyle().Faint(true)
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	blue   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	plain  = lipgloss.NewStyle()
)

// colorEnabled reports whether w is a terminal. When output is piped or
// redirected, styling is suppressed.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer writes styled lines to one output.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: colorEnabled(w)}
}

// style renders text with s, or returns it unchanged when color is off.
func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(args ...any) {
	fmt.Fprintln(p.w, args...)
}

// header prints a bold section title over a rule of the given width.
func (p *printer) header(title string, width int) {
	p.println()
	p.println(p.style(bold, "  "+title))
	p.println(p.style(dim, "  "+strings.Repeat("─", width)))
}

// field prints one aligned label/value row.
func (p *printer) field(label string, value any) {
	p.printf("  %s %v\n", p.style(dim, padRight(label+":", 14)), value)
}

// stateStyle returns the style for a backend state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "IDLE":
		return green
	case "EVALUATING":
		return blue
	case "BOOTING":
		return dim
	case "running":
		return cyan
	case "complete":
		return green
	case "failed":
		return red
	case "cancelled":
		return yellow
	default:
		return plain
	}
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatValue renders a metric value or bound; infinities print as ±∞.
func formatValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatRange renders a bounds pair like "[0, ∞)" with open ends for
// infinite bounds.
func formatRange(lo, hi float64) string {
	start, end := "[", "]"
	if math.IsInf(lo, -1) {
		start = "("
	}
	if math.IsInf(hi, 1) {
		end = ")"
	}
	return start + formatValue(lo) + ", " + formatValue(hi) + end
}

// progressBar builds a simple bar of the given width for a fraction in
// [0, 1].
func (p *printer) progressBar(frac float64, width int) string {
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return p.style(green, strings.Repeat("=", filled)) + strings.Repeat(" ", width-filled)
}

// table collects rows and prints them column-aligned.
type table struct {
	p      *printer
	indent string
	rows   [][]string
	right  map[int]bool
}

func (p *printer) newTable(indent string, headers ...string) *table {
	return &table{p: p, indent: indent, rows: [][]string{headers}, right: map[int]bool{}}
}

func (t *table) alignRight(col int) {
	t.right[col] = true
}

func (t *table) row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) flush() {
	widths := map[int]int{}
	for _, r := range t.rows {
		for i, c := range r {
			if n := lipgloss.Width(c); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for ri, r := range t.rows {
		cells := make([]string, len(r))
		for i, c := range r {
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(c))
			if t.right[i] {
				cells[i] = pad + c
			} else {
				cells[i] = c + pad
			}
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if ri == 0 {
			line = t.p.style(dim, line)
		}
		t.p.println(t.indent + line)
	}
}
