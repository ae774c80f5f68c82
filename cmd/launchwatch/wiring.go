package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/launchwatch/engine/internal/config"
	"github.com/launchwatch/engine/internal/ingest"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string, out io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// initLogging installs the default logger. With the TUI on, logs go to
// cfg.LogFile so they do not draw over the terminal; the returned closer
// releases that file.
func initLogging(cfg *config.Config, tui bool) (io.Closer, error) {
	if !tui || cfg.LogFile == "" {
		slog.SetDefault(setupLogger(cfg.LogLevel, os.Stderr))
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(setupLogger(cfg.LogLevel, f))
	return f, nil
}

// openState opens the configured backend and the watch registry on it.
func openState(ctx context.Context, cfg *config.Config) (state.Backend, *state.Registry, error) {
	backend, err := state.BuildBackendFromDSN(cfg.StateDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open state backend: %w", err)
	}
	reg, err := state.OpenRegistry(ctx, backend, cfg.WatchDefaults)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("open registry: %w", err)
	}
	return backend, reg, nil
}

// seedTenants applies the tenant seed file. Seeds overwrite tenant settings
// and add (never remove) watch entries, so reapplying is harmless.
func seedTenants(ctx context.Context, reg *state.Registry, seeds []config.TenantSeed) (int, error) {
	applied := 0
	for _, seed := range seeds {
		t := seed.Tenant()
		if err := reg.SetTenant(ctx, t); err != nil {
			return applied, fmt.Errorf("seed tenant %q: %w", t.ID, err)
		}
		watch := seed.WatchList()
		for _, axis := range store.Axes {
			for _, value := range watch.Values(axis) {
				ok, err := reg.Add(ctx, t.ID, axis, value)
				if err != nil {
					return applied, fmt.Errorf("seed tenant %q watch: %w", t.ID, err)
				}
				if !ok {
					slog.Warn("seed_watch_entry_invalid", "tenant", t.ID, "axis", axis, "value", value)
				}
			}
		}
		applied++
	}
	return applied, nil
}

// buildSources constructs every configured upstream in priority order. The
// REST client is also returned for lookup commands; it is nil when
// SOURCE_API_URL is unset.
func buildSources(cfg *config.Config) ([]ingest.Source, *ingest.Client) {
	doer := ingest.NewHTTPDoer(cfg.UpstreamTimeout, cfg.UpstreamRPS)

	var all []ingest.Source
	var client *ingest.Client
	if cfg.SourceAPIURL != "" {
		client = ingest.NewClient(cfg.SourceAPIURL, cfg.SourceAPIKey, doer)
		all = append(all, client)
	}
	if cfg.SourceGraphQLURL != "" {
		all = append(all, ingest.NewGraphQLSource(cfg.SourceGraphQLURL, doer))
	}
	if cfg.SourceRPCURL != "" {
		all = append(all, ingest.NewRPCSource(cfg.SourceRPCURL, cfg.FactoryAddress, uint64(cfg.RPCLookback), doer))
	}
	return ingest.OrderSources(cfg.SourcePriority, all...), client
}

func buildChain(cfg *config.Config) (*ingest.Chain, *ingest.Client) {
	sources, client := buildSources(cfg)
	chain := ingest.NewChain(sources, ingest.BreakerSettings{
		Failures: uint32(cfg.BreakerFailures),
		Cooldown: cfg.BreakerCooldown,
	})
	return chain, client
}

// resolveTenant returns the tenant record for scope, or the env-backed global
// tenant when scope is global.
func resolveTenant(cfg *config.Config, reg *state.Registry, scope string) (store.Tenant, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == state.GlobalScope {
		return cfg.GlobalTenant(state.GlobalScope), nil
	}
	t, ok := reg.Tenant(scope)
	if !ok {
		return store.Tenant{}, fmt.Errorf("%w: %q", state.ErrUnknownScope, scope)
	}
	return t, nil
}
