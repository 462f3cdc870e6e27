package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

type cliStyles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Dim   lipgloss.Style
	Error lipgloss.Style
}

var styles = cliStyles{
	Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
	Label: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")).Width(14),
	Value: lipgloss.NewStyle(),
	Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	Error: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintln(w, styles.Label.Render(label)+styles.Value.Render(value))
}
