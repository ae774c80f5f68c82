package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/launchwatch/engine/internal/store"
)

// GlobalScope is the scope used when no tenant context exists.
const GlobalScope = "global"

// Registry is the durable watch registry plus per-tenant configuration. It is
// safe for concurrent use: the orchestrator reads snapshots while the CLI or
// HTTP API mutate entries.
type Registry struct {
	mu       sync.RWMutex
	backend  Backend
	defaults store.WatchList
	scopes   map[string]*scopeRecord
}

type scopeRecord struct {
	Tenant *store.Tenant   `json:"tenant,omitempty"`
	Watch  store.WatchList `json:"watch"`
}

type registryDocument struct {
	Scopes map[string]*scopeRecord `json:"scopes"`
}

// OpenRegistry loads the registry from backend. defaults are layered into every
// scope's effective watch set and are never persisted. On a read failure the
// registry starts empty and the error is returned for logging.
func OpenRegistry(ctx context.Context, backend Backend, defaults store.WatchList) (*Registry, error) {
	r := &Registry{
		backend:  backend,
		defaults: normalizeList(defaults),
		scopes:   make(map[string]*scopeRecord),
	}
	scopes, err := r.read(ctx)
	if err != nil {
		return r, err
	}
	r.scopes = scopes
	return r, nil
}

// Reload replaces the in-memory registry with the stored document so entries
// written by another process become visible. On failure the current view is kept.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh(ctx)
}

// refresh is Reload with r.mu held.
func (r *Registry) refresh(ctx context.Context) error {
	scopes, err := r.read(ctx)
	if err != nil {
		return err
	}
	r.scopes = scopes
	return nil
}

func (r *Registry) read(ctx context.Context) (map[string]*scopeRecord, error) {
	scopes := make(map[string]*scopeRecord)
	data, err := r.backend.Load(ctx, registryKey)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if len(data) == 0 {
		return scopes, nil
	}
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w: %v", ErrCorruptState, err)
	}
	for scope, rec := range doc.Scopes {
		if rec == nil {
			continue
		}
		rec.Watch = normalizeList(rec.Watch)
		scopes[scope] = rec
	}
	return scopes, nil
}

// Add normalizes value and inserts it on axis for scope. It returns false
// without touching state when the value is empty or, on the address axis, not
// a valid address. Adding an entry that already exists returns true.
func (r *Registry) Add(ctx context.Context, scope string, axis store.Axis, value string) (bool, error) {
	scope = normalizeScope(scope)
	norm := axis.Normalize(value)
	if norm == "" {
		return false, nil
	}
	if axis == store.AxisAddress && !store.ValidAddress(norm) {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.mutate(ctx, scope, func(rec *scopeRecord) bool {
		list := rec.Watch.Values(axis)
		if containsValue(axis, list, value) {
			return false
		}
		stored := norm
		if axis == store.AxisKeyword {
			stored = strings.TrimSpace(value)
		}
		setValues(&rec.Watch, axis, sortValues(axis, append(list, stored)))
		return true
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes value from axis for scope and reports whether anything was removed.
func (r *Registry) Remove(ctx context.Context, scope string, axis store.Axis, value string) (bool, error) {
	scope = normalizeScope(scope)
	norm := axis.Normalize(value)
	if norm == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	err := r.mutate(ctx, scope, func(rec *scopeRecord) bool {
		list := rec.Watch.Values(axis)
		kept := make([]string, 0, len(list))
		for _, v := range list {
			if axis.Normalize(v) == norm {
				removed = true
				continue
			}
			kept = append(kept, v)
		}
		if !removed {
			return false
		}
		setValues(&rec.Watch, axis, kept)
		return true
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// List returns a display snapshot of the entries stored for scope.
func (r *Registry) List(scope string) store.WatchList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[normalizeScope(scope)]
	if !ok {
		return store.WatchList{}
	}
	return copyList(rec.Watch)
}

// Defaults returns the env-seeded entries shared by every scope.
func (r *Registry) Defaults() store.WatchList {
	return copyList(r.defaults)
}

// Snapshot returns the effective watch sets for scope: global defaults plus
// the scope's stored entries.
func (r *Registry) Snapshot(scope string) store.WatchSets {
	sets := store.NewWatchSets()
	addList(&sets, r.defaults)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.scopes[normalizeScope(scope)]; ok {
		addList(&sets, rec.Watch)
	}
	return sets
}

// SetTenant creates or replaces a tenant's configuration, keeping its watch entries.
func (r *Registry) SetTenant(ctx context.Context, t store.Tenant) error {
	t.ID = normalizeScope(t.ID)
	if t.ID == GlobalScope {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidInput, GlobalScope)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutate(ctx, t.ID, func(rec *scopeRecord) bool {
		tenant := t
		rec.Tenant = &tenant
		return true
	})
}

// RemoveTenant deletes the tenant and all of its watch entries.
func (r *Registry) RemoveTenant(ctx context.Context, id string) (bool, error) {
	id = normalizeScope(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(ctx); err != nil {
		return false, err
	}
	rec, ok := r.scopes[id]
	if !ok || rec.Tenant == nil {
		return false, nil
	}
	delete(r.scopes, id)
	if err := r.persist(ctx); err != nil {
		r.scopes[id] = rec
		return false, err
	}
	return true, nil
}

// Tenant returns the configuration for id.
func (r *Registry) Tenant(id string) (store.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scopes[normalizeScope(id)]
	if !ok || rec.Tenant == nil {
		return store.Tenant{}, false
	}
	return *rec.Tenant, true
}

// Tenants returns every configured tenant sorted by id.
func (r *Registry) Tenants() []store.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]store.Tenant, 0, len(r.scopes))
	for _, rec := range r.scopes {
		if rec.Tenant != nil {
			tenants = append(tenants, *rec.Tenant)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants
}

// ActiveTenants returns tenants with at least one delivery channel.
func (r *Registry) ActiveTenants() []store.Tenant {
	all := r.Tenants()
	active := all[:0]
	for _, t := range all {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active
}

// mutate re-reads the stored document, applies fn to the scope's record and
// persists. Nothing is written when the document cannot be read. If persisting
// fails the previous record is restored. Must be called with r.mu held.
func (r *Registry) mutate(ctx context.Context, scope string, fn func(rec *scopeRecord) bool) error {
	if err := r.refresh(ctx); err != nil {
		return err
	}
	prev, existed := r.scopes[scope]
	next := &scopeRecord{}
	if existed {
		next.Watch = copyList(prev.Watch)
		if prev.Tenant != nil {
			t := *prev.Tenant
			next.Tenant = &t
		}
	}
	if !fn(next) {
		return nil
	}
	r.scopes[scope] = next
	if err := r.persist(ctx); err != nil {
		if existed {
			r.scopes[scope] = prev
		} else {
			delete(r.scopes, scope)
		}
		return err
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	payload, err := json.Marshal(registryDocument{Scopes: r.scopes})
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := r.backend.Save(ctx, registryKey, payload); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func normalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return GlobalScope
	}
	return scope
}

func containsValue(axis store.Axis, list []string, value string) bool {
	norm := axis.Normalize(value)
	for _, v := range list {
		if axis.Normalize(v) == norm {
			return true
		}
	}
	return false
}

func setValues(l *store.WatchList, axis store.Axis, values []string) {
	switch axis {
	case store.AxisHandleA:
		l.HandleA = values
	case store.AxisHandleB:
		l.HandleB = values
	case store.AxisAddress:
		l.Address = values
	case store.AxisKeyword:
		l.Keywords = values
	}
}

func sortValues(axis store.Axis, values []string) []string {
	if axis == store.AxisKeyword {
		sort.SliceStable(values, func(i, j int) bool {
			return strings.ToLower(values[i]) < strings.ToLower(values[j])
		})
		return values
	}
	sort.Strings(values)
	return values
}

// normalizeList canonicalizes a list loaded from storage or env, dropping
// invalid addresses and duplicates.
func normalizeList(in store.WatchList) store.WatchList {
	var out store.WatchList
	for _, axis := range store.Axes {
		var values []string
		for _, v := range in.Values(axis) {
			norm := axis.Normalize(v)
			if norm == "" || containsValue(axis, values, v) {
				continue
			}
			if axis == store.AxisAddress && !store.ValidAddress(norm) {
				continue
			}
			if axis == store.AxisKeyword {
				values = append(values, strings.TrimSpace(v))
			} else {
				values = append(values, norm)
			}
		}
		setValues(&out, axis, sortValues(axis, values))
	}
	return out
}

func copyList(in store.WatchList) store.WatchList {
	return store.WatchList{
		HandleA:  append([]string(nil), in.HandleA...),
		HandleB:  append([]string(nil), in.HandleB...),
		Address:  append([]string(nil), in.Address...),
		Keywords: append([]string(nil), in.Keywords...),
	}
}

func addList(sets *store.WatchSets, l store.WatchList) {
	for _, axis := range store.Axes {
		for _, v := range l.Values(axis) {
			sets.Add(axis, v)
		}
	}
}
