package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/metrics"
)

var topDeployerHeaders = []string{"Deployer", "Handle", "Launches", "Last seen"}

// TopDeployersView ranks deployers by launches seen since startup.
type TopDeployersView struct {
	table *tview.Table
}

func NewTopDeployersView() *TopDeployersView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Top Deployers ").SetBorder(true)

	v := &TopDeployersView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *TopDeployersView) Widget() tview.Primitive {
	return v.table
}

func (v *TopDeployersView) setHeader() {
	for col, header := range topDeployerHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

// Update refreshes the ranking.
func (v *TopDeployersView) Update(snapshot metrics.Snapshot) {
	v.table.Clear()
	v.setHeader()

	if len(snapshot.TopDeployers) == 0 {
		cell := tview.NewTableCell("No data yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1)
		v.table.SetCell(1, 0, cell)
		return
	}

	for i, d := range snapshot.TopDeployers {
		row := i + 1
		handle := "-"
		if d.HandleA != "" {
			handle = "@" + d.HandleA
		}

		launchColor := tcell.ColorWhite
		if d.Launches > 1 {
			launchColor = tcell.ColorRed
		}

		v.table.SetCell(row, 0, tview.NewTableCell(truncateAddress(d.Address)).SetAlign(tview.AlignLeft))
		v.table.SetCell(row, 1, tview.NewTableCell(handle).SetAlign(tview.AlignLeft))
		v.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", d.Launches)).
			SetAlign(tview.AlignRight).
			SetTextColor(launchColor))
		v.table.SetCell(row, 3, tview.NewTableCell(formatTimeAgo(d.LastSeen)).SetAlign(tview.AlignRight))
	}
}
