package ui

import (
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"

	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/metrics"
	"github.com/launchwatch/engine/internal/store"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 30m", formatDuration(150*time.Minute))
}

func TestFormatTimeAgo(t *testing.T) {
	assert.Equal(t, "never", formatTimeAgo(time.Time{}))
	assert.Equal(t, "3h ago", formatTimeAgo(time.Now().Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", formatTimeAgo(time.Now().Add(-48*time.Hour)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "0x1234...abcd", truncateAddress("0x1234567890123456789012345678901234abcd"))
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRouteLabel(t *testing.T) {
	label, color := routeLabel(store.Annotated{PassesGeneralFilter: true, WatchMatch: true})
	assert.Equal(t, "general+watch", label)
	assert.Equal(t, tcell.ColorYellow, color)

	label, _ = routeLabel(store.Annotated{PassesGeneralFilter: true})
	assert.Equal(t, "general", label)

	label, color = routeLabel(store.Annotated{})
	assert.Equal(t, "suppressed", label)
	assert.Equal(t, tcell.ColorGray, color)
}

func TestAppApplyRoutesWatchMatches(t *testing.T) {
	tracker := metrics.NewTracker(nil)
	app := NewApp(make(chan cycle.Result), tracker, time.Second)

	app.apply(cycle.Result{Scope: "guild", Items: []store.Annotated{
		{Item: store.Item{ItemID: "0x01"}, PassesGeneralFilter: true},
		{Item: store.Item{ItemID: "0x02"}, WatchMatch: true, Reasons: []string{"keyword:moon"}},
	}})

	assert.Equal(t, 2, app.liveFeed.Len())
	assert.Len(t, app.watchAlerts.alerts, 1)
	assert.Equal(t, "guild", app.watchAlerts.alerts[0].scope)

	mainText, secondary := formatAlert(app.watchAlerts.alerts[0])
	assert.Contains(t, mainText, "guild")
	assert.Contains(t, secondary, "keyword:moon")
}

func TestRenderStats(t *testing.T) {
	text := renderStats(metrics.Snapshot{
		CyclesTotal:         7,
		ItemsByOutcome:      map[string]int64{"deliver": 3},
		DeliveriesBySurface: map[string]int64{"watch": 2},
		Sources:             []metrics.SourceStatus{{Name: "api", Result: "error"}},
	})
	assert.Contains(t, text, "Total: 7")
	assert.Contains(t, text, "Delivered: 3")
	assert.Contains(t, text, "Watch: 2")
	assert.Contains(t, text, "api: [red]error[-]")
}

func TestViewsUpdateFromSnapshot(t *testing.T) {
	tracker := metrics.NewTracker(nil)
	tracker.ObserveCycle(cycle.Result{
		Scope:     "guild",
		StartedAt: time.Now(),
		Fetched:   1,
		Delivered: 1,
		Items: []store.Annotated{{
			Item:      store.Item{ItemID: "0x01", Primary: store.Actor{Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", HandleA: "dev"}},
			Delivered: true,
		}},
	})
	snap := tracker.Snapshot()

	overview := NewScopeOverviewView()
	overview.Update(snap)
	assert.Equal(t, "guild", overview.table.GetCell(1, 0).Text)

	top := NewTopDeployersView()
	top.Update(snap)
	assert.Equal(t, "@dev", top.table.GetCell(1, 1).Text)
	assert.Equal(t, "1", top.table.GetCell(1, 2).Text)
}
