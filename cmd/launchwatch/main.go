// Package main is the entry point for the launchwatch notify engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchwatch/engine/internal/config"
	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/httpapi"
	"github.com/launchwatch/engine/internal/metrics"
	"github.com/launchwatch/engine/internal/notify"
	"github.com/launchwatch/engine/internal/scheduler"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
	"github.com/launchwatch/engine/internal/ui"
)

const (
	version = "1.0.0"

	// ResultChannelBuffer is the size of the buffered channel feeding the TUI
	ResultChannelBuffer = 100
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "launchwatch",
		Short:   "Token launch notify engine",
		Version: version,
		Long: `launchwatch polls token-launch sources, drops launches it has already
announced, and routes the rest to general and watch-list Discord channels
per tenant.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newCycleCmd(),
		newWatchCmd(),
		newTenantCmd(),
		newDeploysCmd(),
		newLookupCmd(),
		newFeesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine: scheduler, delivery, admin API and optional TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tui") {
				cfg.EnableTUI = tui
			}
			return runEngine(cfg)
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "show the terminal dashboard (overrides ENABLE_TUI)")
	return cmd
}

func runEngine(cfg *config.Config) error {
	logCloser, err := initLogging(cfg, cfg.EnableTUI)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	slog.Info("launchwatch starting", "version", version)
	slog.Info("config_loaded",
		"network_scope", cfg.NetworkScope,
		"poll_interval", cfg.PollInterval,
		"cycle_timeout", cfg.CycleTimeout,
		"source_priority", cfg.SourcePriority,
		"source_api_url", cfg.SourceAPIURL,
		"source_api_key", cfg.MaskedAPIKey(),
		"source_graphql_url", cfg.SourceGraphQLURL,
		"source_rpc_url", cfg.SourceRPCURL,
		"state_dsn", config.MaskSecret(cfg.StateDSN),
		"seen_max_size", cfg.SeenMaxSize,
		"discord_webhook", cfg.MaskedDiscordWebhook(),
		"discord_watch_webhook", cfg.MaskedDiscordWatchWebhook(),
		"http_addr", cfg.HTTPAddr,
		"enable_tui", cfg.EnableTUI,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	backend, reg, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	seeds, err := config.LoadTenantSeeds(cfg.TenantsFile)
	if err != nil {
		return err
	}
	if n, err := seedTenants(ctx, reg, seeds); err != nil {
		return err
	} else if n > 0 {
		slog.Info("tenants_seeded", "count", n, "file", cfg.TenantsFile)
	}

	// Initialize metrics
	collectors := metrics.NewCollectors()
	tracker := metrics.NewTracker(collectors)

	// Start periodic cleanup
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tracker.Cleanup(24 * time.Hour)
			}
		}
	}()

	chain, _ := buildChain(cfg)
	chain.WithObserver(tracker.ObserveSource)
	slog.Info("sources_configured", "order", chain.Sources())

	orch := cycle.NewOrchestrator(chain, backend, reg, cycle.Options{
		NetworkScope: cfg.NetworkScope,
		SeenMaxSize:  cfg.SeenMaxSize,
	})
	orch.AddObserver(tracker)

	feed := notify.NewFeedHub()
	feed.OnCountChange = tracker.SetFeedClients
	dispatcher := notify.NewDispatcher(notify.NewDiscordSink(cfg.UpstreamTimeout), feed).
		WithObserver(tracker.ObserveDelivery)

	results := make(chan cycle.Result, ResultChannelBuffer)
	handle := func(ctx context.Context, tenant store.Tenant, res cycle.Result) {
		dispatcher.Deliver(ctx, tenant, res)
		if !cfg.EnableTUI {
			return
		}
		select {
		case results <- res:
		default:
			slog.Warn("result_channel_full", "scope", res.Scope)
		}
	}

	sched := scheduler.New(orch,
		scheduler.RegistryTenants(reg, cfg.GlobalTenant(state.GlobalScope)),
		handle,
		scheduler.Options{PollInterval: cfg.PollInterval, CycleTimeout: cfg.CycleTimeout},
	)
	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(httpapi.Options{
			Addr:     cfg.HTTPAddr,
			Registry: reg,
			Deploys:  orch,
			Metrics:  collectors.Handler(),
			Feed:     feed,
			Scopes:   sched.Scopes,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("http_server_failed", "error", err)
			}
		}()
	}

	slog.Info("engine_started",
		"tenants", len(reg.Tenants()),
		"tui_enabled", cfg.EnableTUI,
	)

	// Start TUI or run in background mode
	if cfg.EnableTUI {
		app := ui.NewApp(results, tracker, cfg.UIRefreshRate)
		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
			}
			cancel()
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
		case <-app.Done():
		}
	} else {
		sig := <-sigChan
		slog.Info("shutdown_signal_received", "signal", sig.String())
	}

	cancel()

	slog.Info("shutting_down", "status", "waiting for in-flight cycles")
	<-schedDone
	feed.Close()

	slog.Info("shutdown_complete")
	return nil
}

func newCycleCmd() *cobra.Command {
	var scope string
	var deliver bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one notify cycle for a scope and print the result",
		Long: `Run one notify cycle for a scope. New items are marked seen whether or
not they are delivered, so --deliver=false is for inspecting a feed, not for
previewing a later run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if _, err := initLogging(cfg, false); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CycleTimeout)
			defer cancel()

			backend, reg, err := openState(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			tenant, err := resolveTenant(cfg, reg, scope)
			if err != nil {
				return err
			}

			chain, _ := buildChain(cfg)
			orch := cycle.NewOrchestrator(chain, backend, reg, cycle.Options{
				NetworkScope: cfg.NetworkScope,
				SeenMaxSize:  cfg.SeenMaxSize,
			})
			res, err := orch.Run(ctx, tenant)
			if err != nil {
				return err
			}

			if deliver && len(res.Items) > 0 {
				d := notify.NewDispatcher(notify.NewDiscordSink(cfg.UpstreamTimeout), nil)
				if failed := d.Deliver(ctx, tenant, res); failed > 0 {
					slog.Warn("cycle_delivery_incomplete", "failed_surfaces", failed)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cycleReport{
				CycleID:    res.CycleID,
				Scope:      res.Scope,
				Duration:   res.Duration.String(),
				Fetched:    res.Fetched,
				Duplicates: res.Duplicates,
				Suppressed: res.Suppressed,
				Delivered:  res.Delivered,
				Degraded:   res.Degraded,
				Items:      res.Items,
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", state.GlobalScope, "tenant id to run for")
	cmd.Flags().BoolVar(&deliver, "deliver", true, "send results to the tenant's webhooks")
	return cmd
}

type cycleReport struct {
	CycleID    string            `json:"cycle_id"`
	Scope      string            `json:"scope"`
	Duration   string            `json:"duration"`
	Fetched    int               `json:"fetched"`
	Duplicates int               `json:"duplicates"`
	Suppressed int               `json:"suppressed"`
	Delivered  int               `json:"delivered"`
	Degraded   bool              `json:"degraded"`
	Items      []store.Annotated `json:"items"`
}

// printf writes to the command's stdout.
func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
