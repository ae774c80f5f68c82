package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/launchwatch/engine/internal/config"
	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

// withRegistry loads local config, opens state and runs fn against the registry.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, backend state.Backend, reg *state.Registry) error) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	if _, err := initLogging(cfg, false); err != nil {
		return err
	}
	ctx := cmd.Context()
	backend, reg, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(ctx, cfg, backend, reg)
}

func newWatchCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage watch-list entries",
	}
	cmd.PersistentFlags().StringVar(&scope, "scope", state.GlobalScope, "tenant id the entry belongs to")

	add := &cobra.Command{
		Use:   "add <axis> <value>",
		Short: "Watch a handle, address or keyword (axis: x, farcaster, address, keyword)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := store.ParseAxis(args[0])
			if err != nil {
				return err
			}
			return withRegistry(cmd, func(ctx context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				ok, err := reg.Add(ctx, scope, axis, args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("invalid %s value %q", axis, args[1])
				}
				printf(cmd, "watching %s %s in %s\n", axis, axis.Normalize(args[1]), scope)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <axis> <value>",
		Short: "Stop watching an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := store.ParseAxis(args[0])
			if err != nil {
				return err
			}
			return withRegistry(cmd, func(ctx context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				removed, err := reg.Remove(ctx, scope, axis, args[1])
				if err != nil {
					return err
				}
				if !removed {
					printf(cmd, "%s %s was not watched in %s\n", axis, args[1], scope)
					return nil
				}
				printf(cmd, "removed %s %s from %s\n", axis, axis.Normalize(args[1]), scope)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watch entries for a scope, plus the global defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(_ context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				printWatchList(cmd, "defaults", reg.Defaults())
				printWatchList(cmd, scope, reg.List(scope))
				return nil
			})
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func printWatchList(cmd *cobra.Command, title string, l store.WatchList) {
	printf(cmd, "[%s]\n", title)
	for _, axis := range store.Axes {
		values := l.Values(axis)
		if len(values) == 0 {
			continue
		}
		printf(cmd, "  %-9s %s\n", axis, strings.Join(values, ", "))
	}
}

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants (chat communities with their own channels and filters)",
	}

	var (
		name           string
		generalWebhook string
		watchWebhook   string
		pollSeconds    int
		maxPerActor    int
		requireShared  bool
	)
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or update a tenant; unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				t, _ := reg.Tenant(args[0])
				t.ID = args[0]
				flags := cmd.Flags()
				if flags.Changed("name") {
					t.Name = name
				}
				if flags.Changed("general-webhook") {
					t.GeneralWebhook = generalWebhook
				}
				if flags.Changed("watch-webhook") {
					t.WatchWebhook = watchWebhook
				}
				if flags.Changed("poll-interval") {
					if pollSeconds < 0 {
						return fmt.Errorf("poll-interval must not be negative")
					}
					t.PollInterval = time.Duration(pollSeconds) * time.Second
				}
				if flags.Changed("max-per-actor") {
					switch {
					case maxPerActor < 0:
						t.Filter.MaxItemsPerActor = nil
					default:
						limit := maxPerActor
						t.Filter.MaxItemsPerActor = &limit
					}
				}
				if flags.Changed("require-shared-identity") {
					t.Filter.RequireSharedIdentity = requireShared
				}
				if err := reg.SetTenant(ctx, t); err != nil {
					return err
				}
				printTenant(cmd, t)
				return nil
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "display name")
	set.Flags().StringVar(&generalWebhook, "general-webhook", "", "Discord webhook for the general feed")
	set.Flags().StringVar(&watchWebhook, "watch-webhook", "", "Discord webhook for watch-list matches")
	set.Flags().IntVar(&pollSeconds, "poll-interval", 0, "poll cadence in seconds (0 uses POLL_INTERVAL_SECONDS)")
	set.Flags().IntVar(&maxPerActor, "max-per-actor", -1, "suppress deployers with more launches than this (-1 disables)")
	set.Flags().BoolVar(&requireShared, "require-shared-identity", false, "require deployer and fee recipient to share an identity")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(_ context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				tenants := reg.Tenants()
				if len(tenants) == 0 {
					printf(cmd, "no tenants; the global scope is polled with env settings\n")
					return nil
				}
				for _, t := range tenants {
					printTenant(cmd, t)
				}
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a tenant and its watch entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, _ *config.Config, _ state.Backend, reg *state.Registry) error {
				removed, err := reg.RemoveTenant(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%w: %q", state.ErrUnknownScope, args[0])
				}
				printf(cmd, "removed tenant %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(set, list, remove)
	return cmd
}

func printTenant(cmd *cobra.Command, t store.Tenant) {
	limit := "none"
	if t.Filter.MaxItemsPerActor != nil {
		limit = fmt.Sprintf("%d", *t.Filter.MaxItemsPerActor)
	}
	status := "inactive"
	if t.Active() {
		status = "active"
	}
	printf(cmd, "%s (%s) %s\n  general=%s watch=%s poll=%s max_per_actor=%s shared_identity=%t\n",
		t.ID, t.Name, status,
		config.MaskSecret(t.GeneralWebhook), config.MaskSecret(t.WatchWebhook),
		t.PollInterval, limit, t.Filter.RequireSharedIdentity)
}

func newDeploysCmd() *cobra.Command {
	var scope string
	var top int
	cmd := &cobra.Command{
		Use:   "deploys [address]",
		Short: "Show how many launches an address has deployed, or the top deployers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, _ *config.Config, backend state.Backend, _ *state.Registry) error {
				idx, err := state.LoadDeployIndex(ctx, backend, scope)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					addr := store.NormalizeAddress(args[0])
					if !store.ValidAddress(addr) {
						return fmt.Errorf("invalid address %q", args[0])
					}
					printf(cmd, "%s deployed %d launch(es) in %s\n", addr, idx.CountFor(addr), scope)
					return nil
				}
				for i, row := range idx.Top(top) {
					printf(cmd, "%2d. %s %d\n", i+1, row.Address, row.Count)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", state.GlobalScope, "tenant id")
	cmd.Flags().IntVar(&top, "top", 10, "number of deployers to list")
	return cmd
}
