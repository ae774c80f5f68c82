package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/metrics"
)

// StatsDashboardView displays system health and delivery metrics.
type StatsDashboardView struct {
	textView *tview.TextView
}

func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	textView.SetTitle(" Stats Dashboard ").SetBorder(true)

	return &StatsDashboardView{textView: textView}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.Snapshot) {
	v.textView.Clear()
	fmt.Fprint(v.textView, renderStats(snapshot))
}

func renderStats(snapshot metrics.Snapshot) string {
	var sources strings.Builder
	if len(snapshot.Sources) == 0 {
		sources.WriteString("(no fetches yet)\n")
	}
	for _, s := range snapshot.Sources {
		color := "green"
		switch s.Result {
		case "error", "open":
			color = "red"
		case "empty":
			color = "yellow"
		}
		fmt.Fprintf(&sources, "%s: [%s]%s[-] (%s)\n", s.Name, color, s.Result, formatTimeAgo(s.LastCheck))
	}

	return fmt.Sprintf(`[yellow]System Status[-]
Uptime: %s
Feed clients: %d

[yellow]Sources[-]
%s
[yellow]Cycles[-]
Total: %d
Delivered: %d
Suppressed: %d
Duplicates: %d
Rate: %.2f launches/min

[yellow]Deliveries[-]
General: %d
Watch: %d
Failures: %d
`,
		formatDuration(snapshot.Uptime),
		snapshot.FeedClients,
		sources.String(),
		snapshot.CyclesTotal,
		snapshot.ItemsByOutcome["deliver"],
		snapshot.ItemsByOutcome["suppress"],
		snapshot.ItemsByOutcome["duplicate"],
		snapshot.ItemRate,
		snapshot.DeliveriesBySurface["general"],
		snapshot.DeliveriesBySurface["watch"],
		snapshot.DeliveryFailures,
	)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo formats a time as "X ago".
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := time.Since(t)
	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
