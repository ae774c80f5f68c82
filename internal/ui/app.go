// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/metrics"
)

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	scopeOverview  *ScopeOverviewView
	watchAlerts    *WatchAlertsView
	liveFeed       *LiveFeedView
	statsDashboard *StatsDashboardView
	topDeployers   *TopDeployersView

	// Data
	results  <-chan cycle.Result
	tracker  *metrics.Tracker
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application fed by completed cycle results.
func NewApp(results <-chan cycle.Result, tracker *metrics.Tracker, refresh time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}

	app := &App{
		app:      tview.NewApplication(),
		results:  results,
		tracker:  tracker,
		interval: refresh,
		ctx:      ctx,
		cancel:   cancel,
	}

	app.scopeOverview = NewScopeOverviewView()
	app.watchAlerts = NewWatchAlertsView()
	app.liveFeed = NewLiveFeedView()
	app.statsDashboard = NewStatsDashboardView()
	app.topDeployers = NewTopDeployersView()

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the 5-panel layout.
func (a *App) setupLayout() {
	// Top row: Scope Overview (left) | Watch Alerts (right)
	topRow := tview.NewFlex().
		AddItem(a.scopeOverview.Widget(), 0, 1, false).
		AddItem(a.watchAlerts.Widget(), 0, 2, false)

	// Bottom row: Stats Dashboard (left) | Top Deployers (right)
	bottomRow := tview.NewFlex().
		AddItem(a.statsDashboard.Widget(), 0, 1, false).
		AddItem(a.topDeployers.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 2, false).
		AddItem(a.liveFeed.Widget(), 0, 3, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.processResults()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// Done is closed once the user quits or Stop is called.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

// processResults feeds every cycle's items into the feed and alert views.
func (a *App) processResults() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case res, ok := <-a.results:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.apply(res)
			})
		}
	}
}

// apply must run on the UI goroutine.
func (a *App) apply(res cycle.Result) {
	for _, item := range res.Items {
		a.liveFeed.Add(res.Scope, item)
		if item.WatchMatch {
			a.watchAlerts.Add(res.Scope, item)
		}
	}
}

// updateLoop periodically refreshes views with metrics data.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.tracker.Snapshot()
			a.app.QueueUpdateDraw(func() {
				a.statsDashboard.Update(snapshot)
				a.topDeployers.Update(snapshot)
				a.scopeOverview.Update(snapshot)
			})
		}
	}
}

func (a *App) refresh() {
	snapshot := a.tracker.Snapshot()
	a.app.QueueUpdateDraw(func() {
		a.scopeOverview.Update(snapshot)
		a.watchAlerts.Refresh()
		a.liveFeed.Refresh()
		a.statsDashboard.Update(snapshot)
		a.topDeployers.Update(snapshot)
	})
}
