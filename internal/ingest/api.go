package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/launchwatch/engine/internal/store"
)

// Source names, also used in SOURCE_PRIORITY.
const (
	SourceAPI     = "api"
	SourceGraphQL = "graphql"
	SourceRPC     = "rpc"
)

// DefaultPageSize is how many recent tokens each source asks for.
const DefaultPageSize = 50

// Client talks to the launch platform's REST API. It is both the primary item
// source and the backend for the lookup and fee commands.
type Client struct {
	baseURL string
	apiKey  string
	limit   int
	doer    *HTTPDoer
}

// NewClient creates a REST API client. apiKey may be empty.
func NewClient(baseURL, apiKey string, doer *HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		limit:   DefaultPageSize,
		doer:    doer,
	}
}

func (c *Client) Name() string { return SourceAPI }

func (c *Client) headers() map[string]string {
	return map[string]string{"x-api-key": c.apiKey}
}

// Fetch returns the most recent tokens on networkScope, newest first.
// Records that cannot be mapped are skipped.
func (c *Client) Fetch(ctx context.Context, networkScope int) ([]store.Item, error) {
	endpoint := fmt.Sprintf("%s/tokens?chain_id=%d&sort=desc&limit=%d", c.baseURL, networkScope, c.limit)

	var raw json.RawMessage
	if err := c.doer.getJSON(ctx, endpoint, c.headers(), &raw); err != nil {
		return nil, fmt.Errorf("api fetch: %w", err)
	}
	tokens, err := decodeAPITokens(raw)
	if err != nil {
		return nil, fmt.Errorf("api fetch: %w", err)
	}

	items := make([]store.Item, 0, len(tokens))
	for _, tok := range tokens {
		item, err := mapAPIToken(tok, networkScope)
		if err != nil {
			slog.Debug("api_token_skipped", "error", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

// decodeAPITokens accepts either a bare array or a {"tokens": [...]} envelope.
func decodeAPITokens(raw json.RawMessage) ([]apiToken, error) {
	var list []apiToken
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var envelope struct {
		Tokens []apiToken `json:"tokens"`
		Data   []apiToken `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	if envelope.Tokens != nil {
		return envelope.Tokens, nil
	}
	return envelope.Data, nil
}

// TokenReport is the lookup command's view of one token.
type TokenReport struct {
	Item         store.Item `json:"item"`
	MarketCapUSD float64    `json:"market_cap_usd"`
	Volume24hUSD float64    `json:"volume_24h_usd"`
	Holders      int        `json:"holders"`
}

type apiTokenDetail struct {
	apiToken
	MarketCapUSD string `json:"market_cap_usd"`
	Volume24hUSD string `json:"volume_24h_usd"`
	Holders      int    `json:"holders"`
}

// LookupToken fetches one token by contract address.
func (c *Client) LookupToken(ctx context.Context, networkScope int, address string) (TokenReport, error) {
	addr := store.NormalizeAddress(address)
	if !store.ValidAddress(addr) {
		return TokenReport{}, fmt.Errorf("invalid token address %q", address)
	}
	endpoint := fmt.Sprintf("%s/tokens/%s?chain_id=%d", c.baseURL, url.PathEscape(addr), networkScope)

	var detail apiTokenDetail
	if err := c.doer.getJSON(ctx, endpoint, c.headers(), &detail); err != nil {
		return TokenReport{}, fmt.Errorf("lookup %s: %w", addr, err)
	}
	item, err := mapAPIToken(detail.apiToken, networkScope)
	if err != nil {
		return TokenReport{}, fmt.Errorf("lookup %s: %w", addr, err)
	}
	return TokenReport{
		Item:         item,
		MarketCapUSD: parseFloat(detail.MarketCapUSD),
		Volume24hUSD: parseFloat(detail.Volume24hUSD),
		Holders:      detail.Holders,
	}, nil
}

// FeeEntry is one token's fee position for a recipient.
type FeeEntry struct {
	TokenAddress string  `json:"token_address"`
	Symbol       string  `json:"symbol"`
	ClaimableUSD float64 `json:"claimable_usd"`
	ClaimedUSD   float64 `json:"claimed_usd"`
}

// FeeReport aggregates the fees owed to one recipient address.
type FeeReport struct {
	Recipient         string     `json:"recipient"`
	Entries           []FeeEntry `json:"entries"`
	TotalClaimableUSD float64    `json:"total_claimable_usd"`
	TotalClaimedUSD   float64    `json:"total_claimed_usd"`
}

type apiFeeResponse struct {
	Recipient string `json:"recipient"`
	Address   string `json:"address"`
	Tokens    []struct {
		ContractAddress string `json:"contract_address"`
		Symbol          string `json:"symbol"`
		ClaimableUSD    string `json:"claimable_usd"`
		ClaimedUSD      string `json:"claimed_usd"`
	} `json:"tokens"`
}

// FeeReport fetches and totals the fee positions for a recipient address.
func (c *Client) FeeReport(ctx context.Context, networkScope int, address string) (FeeReport, error) {
	addr := store.NormalizeAddress(address)
	if !store.ValidAddress(addr) {
		return FeeReport{}, fmt.Errorf("invalid recipient address %q", address)
	}
	endpoint := fmt.Sprintf("%s/fees/%s?chain_id=%d", c.baseURL, url.PathEscape(addr), networkScope)

	var resp apiFeeResponse
	if err := c.doer.getJSON(ctx, endpoint, c.headers(), &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return FeeReport{Recipient: addr}, nil
		}
		return FeeReport{}, fmt.Errorf("fees %s: %w", addr, err)
	}

	report := FeeReport{
		Recipient: store.NormalizeAddress(coalesce(resp.Recipient, resp.Address, addr)),
		Entries:   make([]FeeEntry, 0, len(resp.Tokens)),
	}
	for _, tok := range resp.Tokens {
		entry := FeeEntry{
			TokenAddress: store.NormalizeAddress(tok.ContractAddress),
			Symbol:       tok.Symbol,
			ClaimableUSD: parseFloat(tok.ClaimableUSD),
			ClaimedUSD:   parseFloat(tok.ClaimedUSD),
		}
		report.TotalClaimableUSD += entry.ClaimableUSD
		report.TotalClaimedUSD += entry.ClaimedUSD
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}
