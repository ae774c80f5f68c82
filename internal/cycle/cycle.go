// Package cycle drives one notify poll for a scope: fetch candidates, attribute
// them to their deployers, run the detector over each, and persist state.
package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/launchwatch/engine/internal/detector"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

// ErrInFlight is returned when a cycle for the same scope is already running.
var ErrInFlight = errors.New("cycle already in flight for scope")

const persistTimeout = 10 * time.Second

// Phase is the orchestrator's position within one cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseAttributing
	PhaseFiltering
	PhasePersisting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseAttributing:
		return "attributing"
	case PhaseFiltering:
		return "filtering"
	case PhasePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Fetcher supplies candidate items. It absorbs upstream failures and returns
// an empty batch instead of an error.
type Fetcher interface {
	FetchCandidates(ctx context.Context, networkScope int) []store.Item
}

// WatchSource resolves a scope's effective watch sets. Reload refreshes it from
// durable storage; on failure the previous view is used.
type WatchSource interface {
	Reload(ctx context.Context) error
	Snapshot(scope string) store.WatchSets
}

// Observer is notified after every completed cycle.
type Observer interface {
	ObserveCycle(r Result)
}

// Result is the outcome of one cycle, handed to the delivery layer.
type Result struct {
	CycleID   string
	Scope     string
	StartedAt time.Time
	Duration  time.Duration

	Fetched    int
	Duplicates int
	Suppressed int
	Delivered  int

	// Items holds every non-duplicate item in fetch order. Suppressed items
	// are present with all flags false.
	Items []store.Annotated

	// Degraded is set when state could not be read or written this cycle.
	Degraded bool
}

// GeneralCount returns how many items go to the general surface.
func (r Result) GeneralCount() int {
	n := 0
	for _, a := range r.Items {
		if a.PassesGeneralFilter {
			n++
		}
	}
	return n
}

// WatchCount returns how many items go to the watch surface.
func (r Result) WatchCount() int {
	n := 0
	for _, a := range r.Items {
		if a.WatchMatch {
			n++
		}
	}
	return n
}

// Orchestrator runs cycles. One Orchestrator is shared by every scope; it
// refuses to run two cycles for the same scope at once.
type Orchestrator struct {
	fetcher      Fetcher
	backend      state.Backend
	watch        WatchSource
	networkScope int
	seenMaxSize  int
	observers    []Observer

	mu       sync.Mutex
	inflight map[string]Phase
}

// Options configure an Orchestrator.
type Options struct {
	NetworkScope int
	// SeenMaxSize bounds each scope's seen-set; 0 means unbounded
	SeenMaxSize int
}

func NewOrchestrator(fetcher Fetcher, backend state.Backend, watch WatchSource, opts Options) *Orchestrator {
	return &Orchestrator{
		fetcher:      fetcher,
		backend:      backend,
		watch:        watch,
		networkScope: opts.NetworkScope,
		seenMaxSize:  opts.SeenMaxSize,
		inflight:     make(map[string]Phase),
	}
}

// AddObserver registers obs to be told about every completed cycle.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Phase reports the current phase of scope's cycle, or PhaseIdle.
func (o *Orchestrator) Phase(scope string) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[scope]
}

func (o *Orchestrator) begin(scope string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[scope]; busy {
		return false
	}
	o.inflight[scope] = PhaseFetching
	return true
}

func (o *Orchestrator) enter(scope string, p Phase) {
	o.mu.Lock()
	o.inflight[scope] = p
	o.mu.Unlock()
}

func (o *Orchestrator) end(scope string) {
	o.mu.Lock()
	delete(o.inflight, scope)
	o.mu.Unlock()
}

// Run executes one cycle for tenant. The only error is ErrInFlight; upstream
// and persistence failures are logged and reflected in the Result.
func (o *Orchestrator) Run(ctx context.Context, tenant store.Tenant) (res Result, err error) {
	scope := tenant.ID
	if scope == "" {
		scope = state.GlobalScope
	}
	if !o.begin(scope) {
		slog.Warn("cycle_skipped_in_flight", "scope", scope)
		return Result{Scope: scope}, ErrInFlight
	}
	defer o.end(scope)

	res = Result{
		CycleID:   uuid.NewString(),
		Scope:     scope,
		StartedAt: time.Now(),
	}
	log := slog.With("scope", scope, "cycle_id", res.CycleID)
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		for _, obs := range o.observers {
			obs.ObserveCycle(res)
		}
	}()

	items := o.fetcher.FetchCandidates(ctx, o.networkScope)
	res.Fetched = len(items)
	if len(items) == 0 {
		log.Info("cycle_no_items")
		return res, nil
	}

	seen, seenErr := state.LoadSeenSet(ctx, o.backend, scope)
	if seenErr != nil {
		res.Degraded = true
		log.Warn("seen_load_failed", "error", seenErr)
	}
	deploys, deploysErr := state.LoadDeployIndex(ctx, o.backend, scope)
	if deploysErr != nil {
		res.Degraded = true
		log.Warn("deploys_load_failed", "error", deploysErr)
	}

	// Every item is attributed before any is filtered so each max-count check
	// sees the whole batch.
	o.enter(scope, PhaseAttributing)
	for _, item := range items {
		deploys.RecordAttribution(item.Primary.Address, item.ItemID)
	}

	o.enter(scope, PhaseFiltering)
	if err := o.watch.Reload(ctx); err != nil {
		log.Warn("watch_reload_failed", "error", err)
	}
	det := detector.NewDetector(tenant.Filter, o.watch.Snapshot(scope))
	res.Items = make([]store.Annotated, 0, len(items))
	var newKeys []string
	for _, item := range items {
		out := det.Detect(item, seen, deploys)
		if out.Decision == store.DecisionDuplicate {
			res.Duplicates++
			continue
		}
		seen.Add(out.Key)
		newKeys = append(newKeys, out.Key)

		delivered := out.Decision == store.DecisionDeliver
		if delivered {
			res.Delivered++
		} else {
			res.Suppressed++
		}
		res.Items = append(res.Items, store.Annotated{
			Item:                item,
			Delivered:           delivered,
			WatchMatch:          out.WatchMatch,
			PassesGeneralFilter: out.PassesGeneralFilter,
			Reasons:             out.Reasons,
		})
	}

	o.enter(scope, PhasePersisting)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if seenErr != nil {
		seen = o.reloadSeen(persistCtx, log, scope, seenErr, newKeys)
	}
	if seen != nil {
		if saveErr := state.SaveSeenSet(persistCtx, o.backend, scope, seen, o.seenMaxSize); saveErr != nil {
			res.Degraded = true
			log.Error("seen_save_failed", "error", saveErr)
		}
	}
	if deploysErr != nil {
		deploys = o.reloadDeploys(persistCtx, log, scope, deploysErr, items)
	}
	if deploys != nil {
		if saveErr := state.SaveDeployIndex(persistCtx, o.backend, scope, deploys); saveErr != nil {
			res.Degraded = true
			log.Error("deploys_save_failed", "error", saveErr)
		}
	}

	log.Info("cycle_completed",
		"fetched", res.Fetched,
		"duplicates", res.Duplicates,
		"delivered", res.Delivered,
		"suppressed", res.Suppressed,
		"general", res.GeneralCount(),
		"watch", res.WatchCount(),
	)
	return res, nil
}

// reloadSeen re-reads a seen-set whose load failed and appends this cycle's
// keys to it. It returns nil when the set is still unreadable and must not be
// written. A corrupt document is replaced.
func (o *Orchestrator) reloadSeen(ctx context.Context, log *slog.Logger, scope string, loadErr error, newKeys []string) *state.SeenSet {
	if errors.Is(loadErr, state.ErrCorruptState) {
		return state.NewSeenSet(newKeys...)
	}
	stored, err := state.LoadSeenSet(ctx, o.backend, scope)
	if err != nil {
		log.Warn("seen_save_skipped", "error", err)
		return nil
	}
	for _, key := range newKeys {
		stored.Add(key)
	}
	return stored
}

// reloadDeploys is reloadSeen for the deploy index.
func (o *Orchestrator) reloadDeploys(ctx context.Context, log *slog.Logger, scope string, loadErr error, items []store.Item) *state.DeployIndex {
	var idx *state.DeployIndex
	if errors.Is(loadErr, state.ErrCorruptState) {
		idx = state.NewDeployIndex()
	} else {
		stored, err := state.LoadDeployIndex(ctx, o.backend, scope)
		if err != nil {
			log.Warn("deploys_save_skipped", "error", err)
			return nil
		}
		idx = stored
	}
	for _, item := range items {
		idx.RecordAttribution(item.Primary.Address, item.ItemID)
	}
	return idx
}

// DeployCount reads the persisted deploy count for address in scope.
func (o *Orchestrator) DeployCount(ctx context.Context, scope, address string) (int, error) {
	idx, err := state.LoadDeployIndex(ctx, o.backend, scope)
	if err != nil {
		return 0, err
	}
	return idx.CountFor(address), nil
}

// TopDeployers reads the n most prolific deployers in scope.
func (o *Orchestrator) TopDeployers(ctx context.Context, scope string, n int) ([]state.ActorCount, error) {
	idx, err := state.LoadDeployIndex(ctx, o.backend, scope)
	if err != nil {
		return nil, err
	}
	return idx.Top(n), nil
}
