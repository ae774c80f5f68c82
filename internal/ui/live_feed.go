package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/store"
)

var liveFeedHeaders = []string{"Time", "Scope", "Token", "Symbol", "Deployer", "Route"}

type feedRow struct {
	at    time.Time
	scope string
	item  store.Annotated
}

// LiveFeedView displays a scrolling feed of evaluated launches.
type LiveFeedView struct {
	table   *tview.Table
	rows    []feedRow
	maxRows int
}

func NewLiveFeedView() *LiveFeedView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Live Launches ").SetBorder(true)

	v := &LiveFeedView{
		table:   table,
		rows:    make([]feedRow, 0, 100),
		maxRows: 100,
	}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *LiveFeedView) Widget() tview.Primitive {
	return v.table
}

// Add puts an item at the top of the feed.
func (v *LiveFeedView) Add(scope string, item store.Annotated) {
	v.rows = append([]feedRow{{at: time.Now(), scope: scope, item: item}}, v.rows...)
	if len(v.rows) > v.maxRows {
		v.rows = v.rows[:v.maxRows]
	}
	v.updateTable()
}

// Refresh redraws the table.
func (v *LiveFeedView) Refresh() {
	v.updateTable()
}

// Len returns the number of rows in the feed.
func (v *LiveFeedView) Len() int {
	return len(v.rows)
}

func (v *LiveFeedView) setHeader() {
	for col, header := range liveFeedHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

func (v *LiveFeedView) updateTable() {
	v.table.Clear()
	v.setHeader()

	for i, r := range v.rows {
		item := r.item.Item
		deployer := truncateAddress(item.Primary.Address)
		if item.Primary.HandleA != "" {
			deployer = "@" + item.Primary.HandleA
		}
		if deployer == "" {
			deployer = "unknown"
		}

		route, color := routeLabel(r.item)
		cells := []string{
			r.at.Format("15:04:05"),
			r.scope,
			truncateAddress(item.ItemID),
			truncate(item.DisplaySymbol, 12),
			deployer,
			route,
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetAlign(tview.AlignLeft)
			if col == len(cells)-1 {
				cell.SetTextColor(color)
			}
			v.table.SetCell(i+1, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Live Launches (%d) ", len(v.rows)))
}

// routeLabel names the surfaces an item went to.
func routeLabel(a store.Annotated) (string, tcell.Color) {
	switch {
	case a.PassesGeneralFilter && a.WatchMatch:
		return "general+watch", tcell.ColorYellow
	case a.WatchMatch:
		return "watch", tcell.ColorYellow
	case a.PassesGeneralFilter:
		return "general", tcell.ColorGreen
	default:
		return "suppressed", tcell.ColorGray
	}
}
