package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

// renderTable writes rows under headers as a bordered table. Columns listed
// in numeric are right-aligned.
func renderTable(w io.Writer, headers []string, rows [][]string, numeric ...int) {
	right := columnSet(numeric)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case right[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
	fmt.Fprintln(w, t.Render())
}

// renderPlainTable writes rows under headers without borders or text
// attributes. Numeric columns, headers included, are right-aligned.
func renderPlainTable(w io.Writer, headers []string, rows [][]string, numeric ...int) {
	right := columnSet(numeric)
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if right[col] {
				return numberStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func columnSet(cols []int) map[int]bool {
	set := make(map[int]bool, len(cols))
	for _, col := range cols {
		set[col] = true
	}
	return set
}
