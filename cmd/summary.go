package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vehicle-sim/vehicle-sim/sim/session"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// renderSummary formats the per-year summary as a terminal table.
func renderSummary(res *session.Result) string {
	rows := make([][]string, 0, len(res.Years))
	for _, y := range res.Years {
		converged := "yes"
		if y.NonConvergence {
			converged = "no"
		}
		rows = append(rows, []string{
			strconv.Itoa(y.Year),
			fmt.Sprintf("%.0f", y.TotalSales),
			fmt.Sprintf("%.0f", y.AveragePrice),
			fmt.Sprintf("%.0f", y.TargetCO2eMg),
			fmt.Sprintf("%.0f", y.CertCO2eMg),
			fmt.Sprintf("%.0f", y.CreditBalance),
			strconv.Itoa(y.OuterIterations),
			converged,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Year", "Sales", "Avg price $", "Target Mg", "Cert Mg", "Credits Mg", "Iters", "Converged").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle.Padding(0, 1)
			case col == 7 && row >= 0 && row < len(rows) && rows[row][7] == "no":
				return warnStyle.Padding(0, 1)
			}
			return cellStyle
		})

	title := headerStyle.Render(fmt.Sprintf("%s (run %s)", res.Options.SessionName, res.RunID))
	blocks := []string{title, t.Render()}
	if footer := traceFooter(trace.Summarize(res.Trace)); footer != "" {
		blocks = append(blocks, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

// traceFooter summarizes the iteration trace, or is empty when nothing was traced.
func traceFooter(ts *trace.TraceSummary) string {
	if ts.ProducerRecords+ts.ConsumerRecords+ts.OuterIterations == 0 {
		return ""
	}
	line := fmt.Sprintf("trace: %d producer / %d consumer records, %d manufacturers, %d/%d outer iterations converged, max share delta %.4f",
		ts.ProducerRecords, ts.ConsumerRecords, ts.ManufacturerCount, ts.ConvergedOuter, ts.OuterIterations, ts.MaxShareDelta)
	if ts.OuterIterations > ts.ConvergedOuter {
		return warnStyle.Render(line)
	}
	return cellStyle.Render(line)
}
