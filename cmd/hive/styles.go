package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/hive/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	stateStyles = map[models.State]lipgloss.Style{
		models.StateAvailable:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // Yellow
		models.StateInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // Cyan
		models.StateComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // Green
		models.StateError:      lipgloss.NewStyle().Foreground(lipgloss.Color("1")), // Red
		models.StateOnHold:     lipgloss.NewStyle().Foreground(lipgloss.Color("4")), // Blue
		models.StateCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

func renderState(s models.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// table buffers rows and pads each column to its widest cell. Widths are
// measured with lipgloss so styled cells line up with plain ones.
type table struct {
	out  io.Writer
	rows [][]string
}

func newTable(out io.Writer, columns ...string) *table {
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = headerStyle.Render(c)
	}
	return &table{out: out, rows: [][]string{header}}
}

func (t *table) row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) flush() error {
	var widths []int
	for _, r := range t.rows {
		for i, c := range r {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	var b strings.Builder
	for _, r := range t.rows {
		for i, c := range r {
			b.WriteString(c)
			if i < len(r)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c)+2))
			}
		}
		b.WriteByte('\n')
	}
	t.rows = nil
	_, err := io.WriteString(t.out, b.String())
	return err
}

func field(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-13s", label+":")), value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func orNone(items []string) string {
	if len(items) == 0 {
		return mutedStyle.Render("none")
	}
	return strings.Join(items, ", ")
}
