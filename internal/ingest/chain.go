package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/launchwatch/engine/internal/store"
)

// Source is one upstream provider of candidate items.
type Source interface {
	Name() string
	Fetch(ctx context.Context, networkScope int) ([]store.Item, error)
}

// Source call results reported to the observer.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
	ResultOpen  = "open"
)

// SourceObserver is notified of every source attempt.
type SourceObserver func(source, result string)

// BreakerSettings configure the per-source circuit breaker.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker
	Failures uint32
	// Cooldown is how long an open breaker rejects calls before probing
	Cooldown time.Duration
}

// Chain tries sources in priority order and returns the first non-empty batch.
type Chain struct {
	sources  []Source
	breakers map[string]*gobreaker.CircuitBreaker
	observe  SourceObserver
}

// NewChain wraps each source in its own circuit breaker.
func NewChain(sources []Source, settings BreakerSettings) *Chain {
	if settings.Failures == 0 {
		settings.Failures = 3
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = time.Minute
	}

	c := &Chain{
		sources:  sources,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(sources)),
	}
	for _, src := range sources {
		failures := settings.Failures
		c.breakers[src.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        src.Name(),
			MaxRequests: 1,
			Timeout:     settings.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// An upstream that answers with nothing is healthy.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoItems)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("source_breaker_state_changed", "source", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// WithObserver sets a callback for per-source results and returns c.
func (c *Chain) WithObserver(fn SourceObserver) *Chain {
	c.observe = fn
	return c
}

// FetchCandidates returns the first non-empty batch from the sources in
// priority order, de-duplicated by seen key with the first occurrence kept.
// Upstream failures are logged and absorbed: the result may be empty but
// never an error.
func (c *Chain) FetchCandidates(ctx context.Context, networkScope int) []store.Item {
	for _, src := range c.sources {
		if ctx.Err() != nil {
			slog.Warn("fetch_cancelled", "error", ctx.Err())
			return nil
		}
		name := src.Name()
		out, err := c.breakers[name].Execute(func() (interface{}, error) {
			return src.Fetch(ctx, networkScope)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.report(name, ResultOpen)
			slog.Debug("source_skipped_breaker_open", "source", name)
			continue
		case errors.Is(err, ErrNoItems):
			c.report(name, ResultEmpty)
			slog.Debug("source_empty", "source", name)
			continue
		case err != nil:
			c.report(name, ResultError)
			slog.Warn("source_failed", "source", name, "error", err)
			continue
		}

		items, _ := out.([]store.Item)
		if len(items) == 0 {
			c.report(name, ResultEmpty)
			slog.Debug("source_empty", "source", name)
			continue
		}
		c.report(name, ResultOK)
		items = dedupeBatch(items)
		slog.Debug("source_fetched", "source", name, "count", len(items))
		return items
	}

	slog.Warn("all_sources_empty", "network_scope", networkScope, "sources", len(c.sources))
	return nil
}

// BreakerStates returns each source's breaker state, keyed by source name.
func (c *Chain) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.breakers))
	for name, b := range c.breakers {
		states[name] = b.State().String()
	}
	return states
}

// Sources returns the configured source names in priority order.
func (c *Chain) Sources() []string {
	names := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name())
	}
	return names
}

func (c *Chain) report(source, result string) {
	if c.observe != nil {
		c.observe(source, result)
	}
}

func dedupeBatch(items []store.Item) []store.Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		key := item.SeenKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// OrderSources returns the sources named in priority, in that order. Unknown
// names and sources absent from priority are dropped.
func OrderSources(priority []string, sources ...Source) []Source {
	byName := make(map[string]Source, len(sources))
	for _, src := range sources {
		if src != nil {
			byName[src.Name()] = src
		}
	}
	ordered := make([]Source, 0, len(priority))
	for _, name := range priority {
		name = strings.ToLower(strings.TrimSpace(name))
		if src, ok := byName[name]; ok {
			ordered = append(ordered, src)
			delete(byName, name)
		}
	}
	return ordered
}
