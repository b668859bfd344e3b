// Package render produces the terminal output rangekit writes to stderr:
// summary tables after stage execution and plugin documentation. Stdout is
// reserved for the experiment document, so nothing here may print there.
package render

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Table renders a bordered summary table.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Inherit(headerStyle)
			}
			return cellStyle
		}).
		Headers(headers...)

	for _, row := range rows {
		t.Row(row...)
	}
	return t.Render()
}

// WriteTable renders the table to w with a trailing newline.
func WriteTable(w io.Writer, headers []string, rows [][]string) {
	fmt.Fprintln(w, Table(headers, rows))
}

// Markdown renders plugin documentation for the terminal.
func Markdown(src string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build markdown renderer: %w", err)
	}

	out, err := r.Render(src)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
