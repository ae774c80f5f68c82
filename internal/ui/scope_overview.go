package ui

import (
	"fmt"
	"sort"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/metrics"
)

var scopeOverviewHeaders = []string{"Scope", "Cycles", "Fetched", "Sent", "Dupes", "Last run"}

// ScopeOverviewView displays each polled scope and its last cycle.
type ScopeOverviewView struct {
	table *tview.Table
}

func NewScopeOverviewView() *ScopeOverviewView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Scopes ").SetBorder(true)

	v := &ScopeOverviewView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *ScopeOverviewView) Widget() tview.Primitive {
	return v.table
}

func (v *ScopeOverviewView) setHeader() {
	for col, header := range scopeOverviewHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false).
			SetExpansion(1)
		v.table.SetCell(0, col, cell)
	}
}

// Update refreshes the view with new metrics data.
func (v *ScopeOverviewView) Update(snapshot metrics.Snapshot) {
	v.table.Clear()
	v.setHeader()

	scopes := make([]metrics.ScopeActivity, 0, len(snapshot.Scopes))
	for _, activity := range snapshot.Scopes {
		scopes = append(scopes, activity)
	}
	sort.Slice(scopes, func(i, j int) bool {
		return scopes[i].Scope < scopes[j].Scope
	})

	for i, s := range scopes {
		row := i + 1
		cells := []string{
			truncate(s.Scope, 20),
			fmt.Sprintf("%d", s.Cycles),
			fmt.Sprintf("%d", s.Fetched),
			fmt.Sprintf("%d", s.Delivered),
			fmt.Sprintf("%d", s.Duplicates),
			formatTimeAgo(s.LastRun),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft).
				SetExpansion(1)
			if col == 0 && s.Degraded {
				cell.SetTextColor(tcell.ColorRed)
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Scopes (%d active) ", len(scopes)))
}
