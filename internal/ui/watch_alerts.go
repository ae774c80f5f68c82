package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/store"
)

type watchAlert struct {
	at    time.Time
	scope string
	item  store.Annotated
}

// WatchAlertsView lists launches that matched a watch list.
type WatchAlertsView struct {
	list     *tview.List
	alerts   []watchAlert
	maxItems int
}

func NewWatchAlertsView() *WatchAlertsView {
	list := tview.NewList().
		ShowSecondaryText(true)
	list.SetTitle(" Watch Alerts ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	v := &WatchAlertsView{
		list:     list,
		alerts:   make([]watchAlert, 0, 50),
		maxItems: 50,
	}
	v.rebuildList()
	return v
}

// Widget returns the tview primitive.
func (v *WatchAlertsView) Widget() tview.Primitive {
	return v.list
}

// Add puts a watch match at the top of the list.
func (v *WatchAlertsView) Add(scope string, item store.Annotated) {
	v.alerts = append([]watchAlert{{at: time.Now(), scope: scope, item: item}}, v.alerts...)
	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}
	v.rebuildList()
}

// Refresh redraws the list.
func (v *WatchAlertsView) Refresh() {
	v.rebuildList()
}

func (v *WatchAlertsView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No watch matches yet", "", 0, nil)
		return
	}

	for _, alert := range v.alerts {
		mainText, secondary := formatAlert(alert)
		v.list.AddItem(mainText, secondary, 0, nil)
	}
	v.list.SetTitle(fmt.Sprintf(" Watch Alerts (%d) ", len(v.alerts)))
}

func formatAlert(alert watchAlert) (string, string) {
	item := alert.item.Item
	name := truncate(item.DisplayName, 24)
	if name == "" {
		name = truncateAddress(item.ItemID)
	}
	if item.DisplaySymbol != "" {
		name += " ($" + item.DisplaySymbol + ")"
	}

	mainText := fmt.Sprintf("%s [yellow]%s[-] %s", alert.at.Format("15:04:05"), alert.scope, name)
	secondary := fmt.Sprintf("Deployer: %s | %s",
		truncateAddress(item.Primary.Address), strings.Join(alert.item.Reasons, ", "))
	return mainText, secondary
}

// truncateAddress truncates a wallet address for display.
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
