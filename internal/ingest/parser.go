// Package ingest fetches candidate token launches from upstream providers and
// normalizes them into store.Item.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/launchwatch/engine/internal/store"
)

var (
	// ErrUnmappable marks a raw record that cannot become an Item and is skipped.
	ErrUnmappable = errors.New("unmappable record")
	// ErrNoItems is returned by a source that answered but had nothing to offer.
	ErrNoItems = errors.New("no items")
	// ErrNotFound is returned when the upstream has no record for the request.
	ErrNotFound = errors.New("not found")
)

// apiActor is a deployer or fee recipient in the REST API payload.
type apiActor struct {
	Address   string `json:"address"`
	XHandle   string `json:"x_handle"`
	Farcaster string `json:"farcaster"`
}

// apiToken is one token as returned by the REST API.
type apiToken struct {
	ContractAddress string    `json:"contract_address"`
	Name            string    `json:"name"`
	Symbol          string    `json:"symbol"`
	ChainID         int       `json:"chain_id"`
	CreatedAt       string    `json:"created_at"`
	Deployer        *apiActor `json:"deployer"`
	FeeRecipient    *apiActor `json:"fee_recipient"`
}

// graphqlActor is an account node in the indexer schema.
type graphqlActor struct {
	ID                string `json:"id"`
	Twitter           string `json:"twitter"`
	FarcasterUsername string `json:"farcasterUsername"`
}

// graphqlToken is one token node from the indexer.
type graphqlToken struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Symbol       string        `json:"symbol"`
	CreatedAt    string        `json:"createdAt"`
	Creator      *graphqlActor `json:"creator"`
	FeeRecipient *graphqlActor `json:"feeRecipient"`
}

// rpcLog is an eth_getLogs entry emitted by the token factory.
type rpcLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

// mapAPIToken converts a REST API token into an Item for networkScope.
func mapAPIToken(raw apiToken, networkScope int) (store.Item, error) {
	id := store.NormalizeAddress(raw.ContractAddress)
	if !store.ValidAddress(id) {
		return store.Item{}, fmt.Errorf("%w: api token address %q", ErrUnmappable, raw.ContractAddress)
	}
	if raw.ChainID != 0 && raw.ChainID != networkScope {
		return store.Item{}, fmt.Errorf("%w: api token %s on chain %d", ErrUnmappable, id, raw.ChainID)
	}

	item := store.Item{
		ItemID:        id,
		NetworkScope:  networkScope,
		DisplayName:   strings.TrimSpace(raw.Name),
		DisplaySymbol: strings.TrimSpace(raw.Symbol),
		Source:        SourceAPI,
		CreatedAt:     parseTimestamp(raw.CreatedAt),
	}
	if raw.Deployer != nil {
		item.Primary = newActor(raw.Deployer.Address, raw.Deployer.XHandle, raw.Deployer.Farcaster)
	}
	if raw.FeeRecipient != nil {
		item.Secondary = newActor(raw.FeeRecipient.Address, raw.FeeRecipient.XHandle, raw.FeeRecipient.Farcaster)
	}
	item.FreeText = store.BuildFreeText(item.DisplayName, item.DisplaySymbol)
	return item, nil
}

// mapGraphQLToken converts an indexer token node into an Item.
func mapGraphQLToken(raw graphqlToken, networkScope int) (store.Item, error) {
	id := store.NormalizeAddress(raw.ID)
	if !store.ValidAddress(id) {
		return store.Item{}, fmt.Errorf("%w: graphql token id %q", ErrUnmappable, raw.ID)
	}

	item := store.Item{
		ItemID:        id,
		NetworkScope:  networkScope,
		DisplayName:   strings.TrimSpace(raw.Name),
		DisplaySymbol: strings.TrimSpace(raw.Symbol),
		Source:        SourceGraphQL,
		CreatedAt:     parseTimestamp(raw.CreatedAt),
	}
	if raw.Creator != nil {
		item.Primary = newActor(raw.Creator.ID, raw.Creator.Twitter, raw.Creator.FarcasterUsername)
	}
	if raw.FeeRecipient != nil {
		item.Secondary = newActor(raw.FeeRecipient.ID, raw.FeeRecipient.Twitter, raw.FeeRecipient.FarcasterUsername)
	}
	item.FreeText = store.BuildFreeText(item.DisplayName, item.DisplaySymbol)
	return item, nil
}

// mapRPCLog converts a factory creation log into an Item. Topic 1 carries the
// token, topic 2 the deployer and the optional topic 3 the fee recipient.
// Logs carry no names or social handles.
func mapRPCLog(raw rpcLog, networkScope int) (store.Item, error) {
	if raw.Removed {
		return store.Item{}, fmt.Errorf("%w: log removed by reorg", ErrUnmappable)
	}
	if len(raw.Topics) < 3 {
		return store.Item{}, fmt.Errorf("%w: log has %d topics", ErrUnmappable, len(raw.Topics))
	}
	id, ok := topicAddress(raw.Topics[1])
	if !ok {
		return store.Item{}, fmt.Errorf("%w: token topic %q", ErrUnmappable, raw.Topics[1])
	}

	item := store.Item{
		ItemID:       id,
		NetworkScope: networkScope,
		Source:       SourceRPC,
	}
	if deployer, ok := topicAddress(raw.Topics[2]); ok {
		item.Primary.Address = deployer
	}
	if len(raw.Topics) > 3 {
		if recipient, ok := topicAddress(raw.Topics[3]); ok {
			item.Secondary.Address = recipient
		}
	}
	return item, nil
}

// newActor normalizes one upstream identity. Invalid addresses are dropped
// rather than carried half-formed.
func newActor(address, handleA, handleB string) store.Actor {
	addr := store.NormalizeAddress(address)
	if !store.ValidAddress(addr) {
		addr = ""
	}
	return store.Actor{
		Address: addr,
		HandleA: store.NormalizeHandleA(handleA),
		HandleB: store.NormalizeHandleB(handleB),
	}
}

// topicAddress extracts the address from a 32-byte indexed log topic.
func topicAddress(topic string) (string, bool) {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(topic), "0x"))
	if len(t) != 64 {
		return "", false
	}
	if strings.Trim(t[:24], "0") != "" {
		return "", false
	}
	addr := "0x" + t[24:]
	if !store.ValidAddress(addr) || addr == zeroAddress {
		return "", false
	}
	return addr, true
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// parseHexUint decodes a 0x-prefixed JSON-RPC quantity.
func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseFloat safely parses a string to float64.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC 3339. It
// returns the zero time when nothing parses.
func parseTimestamp(values ...string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			if ts > 1e12 {
				return time.UnixMilli(ts).UTC()
			}
			return time.Unix(ts, 0).UTC()
		}

		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t.UTC()
			}
		}
	}

	return time.Time{}
}
