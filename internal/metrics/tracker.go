// Package metrics provides real-time metrics tracking for the system.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/store"
)

// maxRecentItems bounds the live item ring kept for the dashboard.
const maxRecentItems = 200

// ScopeActivity tracks the most recent cycle for a single scope.
type ScopeActivity struct {
	Scope      string
	Cycles     int
	LastCycle  string
	LastRun    time.Time
	Duration   time.Duration
	Fetched    int
	Delivered  int
	Suppressed int
	Duplicates int
	Degraded   bool
}

// DeployerStats is one deployer's launch count across observed cycles.
type DeployerStats struct {
	Address  string
	HandleA  string
	Launches int
	LastSeen time.Time
}

// SourceStatus is the last observed result for one upstream.
type SourceStatus struct {
	Name      string
	Result    string
	Requests  int64
	Failures  int64
	LastCheck time.Time
}

// RecentItem is an annotated item stamped with the scope and time it was seen.
type RecentItem struct {
	Scope string
	Seen  time.Time
	store.Annotated
}

// Snapshot is a point-in-time view of metrics.
type Snapshot struct {
	CyclesTotal         int64
	ItemsByOutcome      map[string]int64
	DeliveriesBySurface map[string]int64
	DeliveryFailures    int64
	ItemRate            float64 // delivered items per minute over the last hour
	Scopes              map[string]ScopeActivity
	TopDeployers        []DeployerStats
	Sources             []SourceStatus
	Recent              []RecentItem
	FeedClients         int
	Uptime              time.Duration
}

// Tracker provides thread-safe metrics tracking.
type Tracker struct {
	mu               sync.RWMutex
	cyclesTotal      int64
	itemsByOutcome   map[string]int64
	deliveries       map[string]int64
	deliveryFailures int64
	scopes           map[string]*ScopeActivity
	deployers        map[string]*DeployerStats
	sources          map[string]*SourceStatus
	recent           []RecentItem
	deliveredTimes   []time.Time // for rate calculation
	feedClients      int
	startTime        time.Time

	collectors *Collectors
}

// NewTracker creates a Tracker. collectors may be nil.
func NewTracker(collectors *Collectors) *Tracker {
	return &Tracker{
		itemsByOutcome: make(map[string]int64),
		deliveries:     make(map[string]int64),
		scopes:         make(map[string]*ScopeActivity),
		deployers:      make(map[string]*DeployerStats),
		sources:        make(map[string]*SourceStatus),
		recent:         make([]RecentItem, 0, maxRecentItems),
		deliveredTimes: make([]time.Time, 0, 1000),
		startTime:      time.Now(),
		collectors:     collectors,
	}
}

// ObserveCycle records a completed cycle.
func (m *Tracker) ObserveCycle(r cycle.Result) {
	m.collectors.observeCycle(r)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cyclesTotal++
	m.itemsByOutcome[store.DecisionDuplicate.String()] += int64(r.Duplicates)
	m.itemsByOutcome[store.DecisionSuppress.String()] += int64(r.Suppressed)
	m.itemsByOutcome[store.DecisionDeliver.String()] += int64(r.Delivered)

	activity, exists := m.scopes[r.Scope]
	if !exists {
		activity = &ScopeActivity{Scope: r.Scope}
		m.scopes[r.Scope] = activity
	}
	activity.Cycles++
	activity.LastCycle = r.CycleID
	activity.LastRun = r.StartedAt
	activity.Duration = r.Duration
	activity.Fetched = r.Fetched
	activity.Delivered = r.Delivered
	activity.Suppressed = r.Suppressed
	activity.Duplicates = r.Duplicates
	activity.Degraded = r.Degraded

	now := time.Now()
	for _, a := range r.Items {
		m.recordDeployer(a.Item, now)
		if a.Delivered {
			m.deliveredTimes = append(m.deliveredTimes, now)
		}
		m.recent = append(m.recent, RecentItem{Scope: r.Scope, Seen: now, Annotated: a})
	}
	if over := len(m.recent) - maxRecentItems; over > 0 {
		m.recent = append(m.recent[:0], m.recent[over:]...)
	}

	// Keep only the last hour of delivery timestamps
	cutoff := now.Add(-time.Hour)
	validIdx := 0
	for validIdx < len(m.deliveredTimes) && !m.deliveredTimes[validIdx].After(cutoff) {
		validIdx++
	}
	if validIdx > 0 {
		m.deliveredTimes = m.deliveredTimes[validIdx:]
	}
}

// recordDeployer must be called with the lock held.
func (m *Tracker) recordDeployer(item store.Item, now time.Time) {
	addr := item.Primary.Address
	if addr == "" {
		return
	}
	d, ok := m.deployers[addr]
	if !ok {
		d = &DeployerStats{Address: addr}
		m.deployers[addr] = d
	}
	d.Launches++
	d.LastSeen = now
	if item.Primary.HandleA != "" {
		d.HandleA = item.Primary.HandleA
	}
}

// ObserveSource records one upstream call. Its signature matches
// ingest.SourceObserver.
func (m *Tracker) ObserveSource(source, result string) {
	m.collectors.observeSource(source, result)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[source]
	if !ok {
		s = &SourceStatus{Name: source}
		m.sources[source] = s
	}
	s.Result = result
	s.Requests++
	if result == "error" || result == "open" {
		s.Failures++
	}
	s.LastCheck = time.Now()
}

// ObserveDelivery records one surface send. Its signature matches
// notify.DeliveryObserver.
func (m *Tracker) ObserveDelivery(surface, result string, items int) {
	m.collectors.observeDelivery(surface, result)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch result {
	case "sent":
		m.deliveries[surface] += int64(items)
	case "failed":
		m.deliveryFailures++
	}
}

// SetFeedClients sets the number of connected live feed clients.
func (m *Tracker) SetFeedClients(n int) {
	m.collectors.setFeedClients(n)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedClients = n
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *Tracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	itemRate := 0.0
	if len(m.deliveredTimes) > 0 {
		minutes := time.Since(m.deliveredTimes[0]).Minutes()
		if minutes < 1 {
			minutes = 1
		}
		itemRate = float64(len(m.deliveredTimes)) / minutes
	}

	outcomes := make(map[string]int64, len(m.itemsByOutcome))
	for k, v := range m.itemsByOutcome {
		outcomes[k] = v
	}
	deliveries := make(map[string]int64, len(m.deliveries))
	for k, v := range m.deliveries {
		deliveries[k] = v
	}
	scopes := make(map[string]ScopeActivity, len(m.scopes))
	for k, v := range m.scopes {
		scopes[k] = *v
	}

	sources := make([]SourceStatus, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, *s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	return Snapshot{
		CyclesTotal:         m.cyclesTotal,
		ItemsByOutcome:      outcomes,
		DeliveriesBySurface: deliveries,
		DeliveryFailures:    m.deliveryFailures,
		ItemRate:            itemRate,
		Scopes:              scopes,
		TopDeployers:        m.topDeployers(10),
		Sources:             sources,
		Recent:              append([]RecentItem(nil), m.recent...),
		FeedClients:         m.feedClients,
		Uptime:              time.Since(m.startTime),
	}
}

// topDeployers must be called with the lock held.
func (m *Tracker) topDeployers(n int) []DeployerStats {
	rows := make([]DeployerStats, 0, len(m.deployers))
	for _, d := range m.deployers {
		rows = append(rows, *d)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Launches != rows[j].Launches {
			return rows[i].Launches > rows[j].Launches
		}
		return rows[i].Address < rows[j].Address
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Cleanup drops deployers not seen within maxAge.
func (m *Tracker) Cleanup(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for addr, d := range m.deployers {
		if d.LastSeen.Before(cutoff) {
			delete(m.deployers, addr)
		}
	}
}
