package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/launchwatch/engine/internal/store"
)

// DeployIndex maps an actor address to the set of item ids attributed to it.
// Counts only grow; pruning is an operator task.
type DeployIndex struct {
	actors map[string]map[string]struct{}
}

type deployDocument struct {
	Actors map[string][]string `json:"actors"`
}

// ActorCount is one row of a deploy-count report.
type ActorCount struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

func NewDeployIndex() *DeployIndex {
	return &DeployIndex{actors: make(map[string]map[string]struct{})}
}

// RecordAttribution attributes itemID to actorAddress. Both are normalized;
// an empty address is ignored. Recording the same pair twice is a no-op.
func (d *DeployIndex) RecordAttribution(actorAddress, itemID string) {
	addr := store.NormalizeAddress(actorAddress)
	id := store.NormalizeAddress(itemID)
	if addr == "" || id == "" {
		return
	}
	items, ok := d.actors[addr]
	if !ok {
		items = make(map[string]struct{})
		d.actors[addr] = items
	}
	items[id] = struct{}{}
}

func (d *DeployIndex) CountFor(actorAddress string) int {
	return len(d.actors[store.NormalizeAddress(actorAddress)])
}

// Len returns the number of distinct actors.
func (d *DeployIndex) Len() int { return len(d.actors) }

// Top returns the n actors with the most attributed items, largest first.
func (d *DeployIndex) Top(n int) []ActorCount {
	rows := make([]ActorCount, 0, len(d.actors))
	for addr, items := range d.actors {
		rows = append(rows, ActorCount{Address: addr, Count: len(items)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Address < rows[j].Address
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// LoadDeployIndex mirrors LoadSeenSet: the index is never nil and is empty on failure.
func LoadDeployIndex(ctx context.Context, backend Backend, scope string) (*DeployIndex, error) {
	data, err := backend.Load(ctx, deploysKey(scope))
	if err != nil {
		return NewDeployIndex(), fmt.Errorf("load deploy index %q: %w", scope, err)
	}
	if len(data) == 0 {
		return NewDeployIndex(), nil
	}
	var doc deployDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewDeployIndex(), fmt.Errorf("decode deploy index %q: %w: %v", scope, ErrCorruptState, err)
	}
	idx := NewDeployIndex()
	for addr, ids := range doc.Actors {
		for _, id := range ids {
			idx.RecordAttribution(addr, id)
		}
	}
	return idx, nil
}

func SaveDeployIndex(ctx context.Context, backend Backend, scope string, idx *DeployIndex) error {
	doc := deployDocument{Actors: make(map[string][]string, len(idx.actors))}
	for addr, items := range idx.actors {
		ids := make([]string, 0, len(items))
		for id := range items {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		doc.Actors[addr] = ids
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode deploy index %q: %w", scope, err)
	}
	if err := backend.Save(ctx, deploysKey(scope), payload); err != nil {
		return fmt.Errorf("save deploy index %q: %w", scope, err)
	}
	return nil
}
