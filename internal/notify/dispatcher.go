package notify

import (
	"context"
	"log/slog"

	"github.com/launchwatch/engine/internal/cycle"
	"github.com/launchwatch/engine/internal/store"
)

// Delivery results reported to the observer.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// DeliveryObserver is told how each surface send went and for how many items.
type DeliveryObserver func(surface, result string, items int)

// Dispatcher routes a cycle's items to the general and watch surfaces and to
// the live feed.
type Dispatcher struct {
	sink    Sink
	feed    *FeedHub
	observe DeliveryObserver
}

// NewDispatcher creates a dispatcher. feed may be nil.
func NewDispatcher(sink Sink, feed *FeedHub) *Dispatcher {
	return &Dispatcher{sink: sink, feed: feed}
}

// WithObserver sets the delivery observer and returns d.
func (d *Dispatcher) WithObserver(fn DeliveryObserver) *Dispatcher {
	d.observe = fn
	return d
}

// Split partitions items by surface, keeping order. An item that both passes
// the general filter and matches the watch list appears in both.
func Split(items []store.Annotated) (general, watch []store.Annotated) {
	for _, a := range items {
		if a.PassesGeneralFilter {
			general = append(general, a)
		}
		if a.WatchMatch {
			watch = append(watch, a)
		}
	}
	return general, watch
}

// Deliver sends res to tenant's webhooks. The general and watch sends are
// independent: a failure on one is logged and does not stop the other. It
// returns the number of surfaces that failed.
func (d *Dispatcher) Deliver(ctx context.Context, tenant store.Tenant, res cycle.Result) int {
	if d.feed != nil {
		for i := range res.Items {
			a := res.Items[i]
			d.feed.Broadcast(FeedEvent{Type: "item", Scope: res.Scope, CycleID: res.CycleID, Item: &a})
		}
	}

	general, watch := Split(res.Items)
	failed := 0
	if !d.send(ctx, tenant, store.SurfaceGeneral, tenant.GeneralWebhook, general) {
		failed++
	}
	if !d.send(ctx, tenant, store.SurfaceWatch, tenant.WatchWebhook, watch) {
		failed++
	}
	return failed
}

func (d *Dispatcher) send(ctx context.Context, tenant store.Tenant, surface, webhook string, items []store.Annotated) bool {
	if len(items) == 0 {
		return true
	}
	if webhook == "" {
		d.report(surface, ResultSkipped, len(items))
		slog.Debug("delivery_skipped_no_webhook", "scope", tenant.ID, "surface", surface, "items", len(items))
		return true
	}
	if err := d.sink.Send(ctx, webhook, surface, items); err != nil {
		d.report(surface, ResultFailed, len(items))
		slog.Error("delivery_failed", "scope", tenant.ID, "surface", surface, "items", len(items), "error", err)
		return false
	}
	d.report(surface, ResultSent, len(items))
	slog.Info("delivery_sent", "scope", tenant.ID, "surface", surface, "items", len(items))
	return true
}

func (d *Dispatcher) report(surface, result string, items int) {
	if d.observe != nil {
		d.observe(surface, result, items)
	}
}
