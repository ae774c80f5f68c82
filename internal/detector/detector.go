// Package detector decides, per launch item, whether it is new and where it should surface.
package detector

import (
	"strings"

	"github.com/launchwatch/engine/internal/store"
)

// SeenView answers whether a composite key was already processed.
type SeenView interface {
	Contains(key string) bool
}

// DeployView answers how many items an actor address has produced.
type DeployView interface {
	CountFor(address string) int
}

// Detector applies the dedup, watch-list and general-filter rules for one scope.
// It holds no mutable state; every call to Detect is a pure function of its inputs.
type Detector struct {
	filter store.FilterConfig
	watch  store.WatchSets
}

// NewDetector creates a Detector for the scope's effective filter and watch sets.
func NewDetector(filter store.FilterConfig, watch store.WatchSets) *Detector {
	return &Detector{filter: filter, watch: watch}
}

// Detect evaluates one item. It never mutates seen or deploys; the caller marks
// the returned key seen when Decision is not DecisionDuplicate.
func (d *Detector) Detect(item store.Item, seen SeenView, deploys DeployView) store.Outcome {
	key := item.SeenKey()
	if seen != nil && seen.Contains(key) {
		return store.Outcome{Key: key, Decision: store.DecisionDuplicate}
	}

	reasons := d.MatchWatch(item)
	watchMatch := len(reasons) > 0
	passes := d.PassesGeneralFilter(item, deploys)

	out := store.Outcome{
		Key:                 key,
		PassesGeneralFilter: passes,
		WatchMatch:          watchMatch,
		Reasons:             reasons,
	}
	if watchMatch || passes {
		out.Decision = store.DecisionDeliver
	} else {
		out.Decision = store.DecisionSuppress
	}
	return out
}

// MatchWatch returns the watch entries the item hits, as "axis:value" strings.
// An empty result means no watch match.
func (d *Detector) MatchWatch(item store.Item) []string {
	var reasons []string

	for _, actor := range []store.Actor{item.Primary, item.Secondary} {
		if h := store.NormalizeHandleA(actor.HandleA); h != "" {
			if _, ok := d.watch.HandleA[h]; ok {
				reasons = appendReason(reasons, string(store.AxisHandleA)+":"+h)
			}
		}
		if h := store.NormalizeHandleB(actor.HandleB); h != "" {
			if _, ok := d.watch.HandleB[h]; ok {
				reasons = appendReason(reasons, string(store.AxisHandleB)+":"+h)
			}
		}
		if addr := store.NormalizeAddress(actor.Address); addr != "" {
			if _, ok := d.watch.Address[addr]; ok {
				reasons = appendReason(reasons, string(store.AxisAddress)+":"+addr)
			}
		}
	}

	if len(d.watch.Keywords) > 0 {
		text := strings.ToLower(item.FreeText)
		for _, kw := range d.watch.Keywords {
			kw = strings.ToLower(kw)
			if kw != "" && strings.Contains(text, kw) {
				reasons = appendReason(reasons, string(store.AxisKeyword)+":"+kw)
			}
		}
	}

	return reasons
}

// PassesGeneralFilter applies the shared-identity requirement and the
// per-actor cap. Both must hold; an unset constraint is vacuously true.
func (d *Detector) PassesGeneralFilter(item store.Item, deploys DeployView) bool {
	if d.filter.RequireSharedIdentity && !SharesIdentity(item.Primary, item.Secondary) {
		return false
	}
	if d.filter.MaxItemsPerActor != nil && deploys != nil {
		// No resolvable address means the cap cannot be applied.
		if addr := store.NormalizeAddress(item.Primary.Address); addr != "" {
			if deploys.CountFor(addr) > *d.filter.MaxItemsPerActor {
				return false
			}
		}
	}
	return true
}

// SharesIdentity reports whether both actors carry the same axis-A handle or
// the same axis-B handle.
func SharesIdentity(a, b store.Actor) bool {
	ha, hb := store.NormalizeHandleA(a.HandleA), store.NormalizeHandleA(b.HandleA)
	if ha != "" && ha == hb {
		return true
	}
	fa, fb := store.NormalizeHandleB(a.HandleB), store.NormalizeHandleB(b.HandleB)
	return fa != "" && fa == fb
}

func appendReason(reasons []string, r string) []string {
	for _, existing := range reasons {
		if existing == r {
			return reasons
		}
	}
	return append(reasons, r)
}
