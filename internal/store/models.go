// Package store provides the data model shared by ingest, state, detector and delivery.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Actor is an address (optionally with social handles) economically tied to an item.
type Actor struct {
	// Address is the lowercase 0x address, empty when unresolved
	Address string `json:"address,omitempty"`

	// HandleA is the X/Twitter handle without a leading @
	HandleA string `json:"handle_a,omitempty"`

	// HandleB is the Farcaster username
	HandleB string `json:"handle_b,omitempty"`
}

// IsZero reports whether the actor carries no identity at all.
func (a Actor) IsZero() bool {
	return a.Address == "" && a.HandleA == "" && a.HandleB == ""
}

// Item is one candidate token launch, normalized from any upstream.
type Item struct {
	// ItemID is the lowercase token contract address
	ItemID string `json:"item_id"`

	// NetworkScope is the chain id the token lives on
	NetworkScope int `json:"network_scope"`

	DisplayName   string `json:"display_name,omitempty"`
	DisplaySymbol string `json:"display_symbol,omitempty"`

	// Primary is the deployer
	Primary Actor `json:"actor_primary"`

	// Secondary is the fee recipient (may be zero)
	Secondary Actor `json:"actor_secondary"`

	// FreeText is name and symbol concatenated for keyword matching
	FreeText string `json:"free_text,omitempty"`

	// Source names the upstream that produced the item
	Source string `json:"source,omitempty"`

	// CreatedAt is the upstream launch time when known
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// SeenKey returns the composite dedup key "<networkScope>:<itemId>".
func (i Item) SeenKey() string {
	return SeenKey(i.NetworkScope, i.ItemID)
}

// SeenKey builds the composite dedup key for a network and item identity.
func SeenKey(networkScope int, itemID string) string {
	return fmt.Sprintf("%d:%s", networkScope, NormalizeAddress(itemID))
}

// BuildFreeText joins name and symbol the way keyword matching expects.
func BuildFreeText(name, symbol string) string {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	switch {
	case name == "" && symbol == "":
		return ""
	case symbol == "":
		return name
	case name == "":
		return "($" + symbol + ")"
	}
	return name + " ($" + symbol + ")"
}

// Decision is the filter engine verdict for one item.
type Decision int

const (
	DecisionDuplicate Decision = iota
	DecisionSuppress
	DecisionDeliver
)

func (d Decision) String() string {
	switch d {
	case DecisionDuplicate:
		return "duplicate"
	case DecisionSuppress:
		return "suppress"
	case DecisionDeliver:
		return "deliver"
	default:
		return "unknown"
	}
}

// Outcome is the full result of evaluating one item.
type Outcome struct {
	Key                 string
	Decision            Decision
	PassesGeneralFilter bool
	WatchMatch          bool

	// Reasons lists which watch entries matched, e.g. "address:0xabc..."
	Reasons []string
}

// Annotated is an item paired with its outcome, handed to the delivery layer.
type Annotated struct {
	Item                Item     `json:"item"`
	Delivered           bool     `json:"delivered"`
	WatchMatch          bool     `json:"watch_match"`
	PassesGeneralFilter bool     `json:"passes_general_filter"`
	Reasons             []string `json:"reasons,omitempty"`
}

// Surfaces a delivery layer routes to.
const (
	SurfaceGeneral = "general"
	SurfaceWatch   = "watch"
)

// FilterConfig holds the general-feed knobs.
type FilterConfig struct {
	RequireSharedIdentity bool `json:"require_shared_identity" yaml:"require_shared_identity"`

	// MaxItemsPerActor is nil when no cap applies
	MaxItemsPerActor *int `json:"max_items_per_actor,omitempty" yaml:"max_items_per_actor,omitempty"`
}

// Tenant is an isolated scope (one chat community) with its own channels and filters.
type Tenant struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	GeneralWebhook string        `json:"general_webhook,omitempty"`
	WatchWebhook   string        `json:"watch_webhook,omitempty"`
	Filter         FilterConfig  `json:"filter"`
	PollInterval   time.Duration `json:"poll_interval,omitempty"`
}

// Active reports whether the tenant has at least one delivery channel.
func (t Tenant) Active() bool {
	return strings.TrimSpace(t.GeneralWebhook) != "" || strings.TrimSpace(t.WatchWebhook) != ""
}
