package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderTable lays out rows under headers. Rows for which highlight
// returns true are drawn in the failure color.
func renderTable(headers []string, rows [][]string, highlight func(row int) bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case highlight != nil && highlight(row):
				return failStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}
