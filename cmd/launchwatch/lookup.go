package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/launchwatch/engine/internal/config"
	"github.com/launchwatch/engine/internal/ingest"
	"github.com/launchwatch/engine/internal/notify"
)

var errNoAPI = errors.New("SOURCE_API_URL is required for lookups")

// withClient loads config and runs fn with the REST API client.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, client *ingest.Client) error) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	if _, err := initLogging(cfg, false); err != nil {
		return err
	}
	if cfg.SourceAPIURL == "" {
		return errNoAPI
	}
	doer := ingest.NewHTTPDoer(cfg.UpstreamTimeout, cfg.UpstreamRPS)
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.UpstreamTimeout)
	defer cancel()
	return fn(ctx, cfg, ingest.NewClient(cfg.SourceAPIURL, cfg.SourceAPIKey, doer))
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <token-address>",
		Short: "Show a token's launch details and market stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *ingest.Client) error {
				report, err := client.LookupToken(ctx, cfg.NetworkScope, args[0])
				if err != nil {
					return err
				}
				item := report.Item
				printf(cmd, "%s ($%s)\n", item.DisplayName, item.DisplaySymbol)
				printf(cmd, "  token:        %s\n", item.ItemID)
				printf(cmd, "  deployer:     %s\n", describeActor(item.Primary.Address, item.Primary.HandleA, item.Primary.HandleB))
				printf(cmd, "  fee recipient: %s\n", describeActor(item.Secondary.Address, item.Secondary.HandleA, item.Secondary.HandleB))
				if !item.CreatedAt.IsZero() {
					printf(cmd, "  created:      %s\n", item.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
				}
				printf(cmd, "  market cap:   $%.0f\n", report.MarketCapUSD)
				printf(cmd, "  24h volume:   $%.0f\n", report.Volume24hUSD)
				printf(cmd, "  holders:      %d\n", report.Holders)
				return nil
			})
		},
	}
}

func newFeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fees <recipient-address>",
		Short: "Total the claimable and claimed fees for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *ingest.Client) error {
				report, err := client.FeeReport(ctx, cfg.NetworkScope, args[0])
				if err != nil {
					return err
				}
				printf(cmd, "fees for %s\n", report.Recipient)
				if len(report.Entries) == 0 {
					printf(cmd, "  no fee positions\n")
					return nil
				}
				for _, e := range report.Entries {
					printf(cmd, "  %-12s %s claimable=$%.2f claimed=$%.2f\n",
						e.Symbol, notify.ShortAddress(e.TokenAddress), e.ClaimableUSD, e.ClaimedUSD)
				}
				printf(cmd, "  total claimable=$%.2f claimed=$%.2f\n", report.TotalClaimableUSD, report.TotalClaimedUSD)
				return nil
			})
		},
	}
}

func describeActor(address, handleA, handleB string) string {
	if address == "" && handleA == "" && handleB == "" {
		return "unknown"
	}
	out := address
	if handleA != "" {
		out += fmt.Sprintf(" @%s", handleA)
	}
	if handleB != "" {
		out += fmt.Sprintf(" fc:%s", handleB)
	}
	return out
}
