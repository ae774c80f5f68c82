// Package scheduler runs notify cycles on an in-process timer, one worker per scope.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

// Runner executes one cycle for a tenant.
type Runner interface {
	Run(ctx context.Context, tenant store.Tenant) (cycle.Result, error)
}

// TenantSource returns the tenants that should currently be polled.
type TenantSource func(ctx context.Context) []store.Tenant

// Handler receives every completed cycle result, typically for delivery.
type Handler func(ctx context.Context, tenant store.Tenant, res cycle.Result)

// Options configure a Scheduler.
type Options struct {
	// PollInterval is the default cadence and how often the tenant set is re-read
	PollInterval time.Duration
	// CycleTimeout bounds each cycle
	CycleTimeout time.Duration
}

// Scheduler keeps one worker goroutine per active scope.
type Scheduler struct {
	runner  Runner
	tenants TenantSource
	handle  Handler
	opts    Options

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	mu       sync.Mutex
	tenant   store.Tenant
	interval time.Duration
	cancel   context.CancelFunc
}

func (w *worker) current() store.Tenant {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tenant
}

func (w *worker) update(t store.Tenant) {
	w.mu.Lock()
	w.tenant = t
	w.mu.Unlock()
}

func New(runner Runner, tenants TenantSource, handle Handler, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 90 * time.Second
	}
	return &Scheduler{
		runner:  runner,
		tenants: tenants,
		handle:  handle,
		opts:    opts,
		workers: make(map[string]*worker),
	}
}

// Start runs until ctx is cancelled, then stops every worker and waits for
// in-flight cycles to return.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler_started", "poll_interval", s.opts.PollInterval, "cycle_timeout", s.opts.CycleTimeout)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			slog.Info("scheduler_stopped")
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Scopes returns the scopes with a running worker.
func (s *Scheduler) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes := make([]string, 0, len(s.workers))
	for scope := range s.workers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

func (s *Scheduler) intervalFor(t store.Tenant) time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return s.opts.PollInterval
}

// reconcile starts workers for new tenants, stops workers for removed ones and
// restarts workers whose cadence changed.
func (s *Scheduler) reconcile(ctx context.Context) {
	want := make(map[string]store.Tenant)
	for _, t := range s.tenants(ctx) {
		if t.ID == "" {
			t.ID = state.GlobalScope
		}
		want[t.ID] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for scope, w := range s.workers {
		t, ok := want[scope]
		switch {
		case !ok:
			w.cancel()
			delete(s.workers, scope)
			slog.Info("scope_worker_stopped", "scope", scope)
		case s.intervalFor(t) != w.interval:
			w.cancel()
			delete(s.workers, scope)
			slog.Info("scope_worker_restarting", "scope", scope, "interval", s.intervalFor(t))
		default:
			w.update(t)
		}
	}

	for scope, t := range want {
		if _, running := s.workers[scope]; running {
			continue
		}
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{tenant: t, interval: s.intervalFor(t), cancel: cancel}
		s.workers[scope] = w
		s.wg.Add(1)
		go s.loop(wctx, scope, w)
		slog.Info("scope_worker_started", "scope", scope, "interval", w.interval)
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, w := range s.workers {
		w.cancel()
		delete(s.workers, scope)
	}
}

func (s *Scheduler) loop(ctx context.Context, scope string, w *worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	s.runOnce(ctx, scope, w.current())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, scope, w.current())
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, scope string, t store.Tenant) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	res, err := s.runner.Run(cctx, t)
	if errors.Is(err, cycle.ErrInFlight) {
		slog.Warn("cycle_skipped", "scope", scope, "reason", "in_flight")
		return
	}
	if err != nil {
		slog.Error("cycle_failed", "scope", scope, "error", err)
		return
	}
	if s.handle != nil && len(res.Items) > 0 {
		s.handle(ctx, t, res)
	}
}

// RegistryTenants polls the registry's active tenants, re-reading it first so
// tenants managed from another process are picked up. With no tenant records
// at all the engine runs single-tenant and polls global instead.
func RegistryTenants(reg *state.Registry, global store.Tenant) TenantSource {
	return func(ctx context.Context) []store.Tenant {
		if err := reg.Reload(ctx); err != nil {
			slog.Warn("registry_reload_failed", "error", err)
		}
		if len(reg.Tenants()) == 0 {
			return []store.Tenant{global}
		}
		return reg.ActiveTenants()
	}
}
