package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// SeenSet is the ordered set of composite keys already processed for a scope.
// Insertion order is kept so eviction removes the oldest keys first.
type SeenSet struct {
	keys  []string
	index map[string]struct{}
}

type seenDocument struct {
	Keys []string `json:"keys"`
}

func NewSeenSet(keys ...string) *SeenSet {
	s := &SeenSet{index: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s *SeenSet) Contains(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Add appends key unless it is already present.
func (s *SeenSet) Add(key string) {
	if key == "" {
		return
	}
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = struct{}{}
	s.keys = append(s.keys, key)
}

// EvictOldestIfOverCapacity trims the front of the set down to maxSize and
// returns how many keys were dropped. maxSize <= 0 means unbounded.
func (s *SeenSet) EvictOldestIfOverCapacity(maxSize int) int {
	if maxSize <= 0 || len(s.keys) <= maxSize {
		return 0
	}
	drop := len(s.keys) - maxSize
	for _, k := range s.keys[:drop] {
		delete(s.index, k)
	}
	s.keys = append([]string(nil), s.keys[drop:]...)
	return drop
}

func (s *SeenSet) Len() int { return len(s.keys) }

// Keys returns a copy in insertion order, oldest first.
func (s *SeenSet) Keys() []string {
	return append([]string(nil), s.keys...)
}

// LoadSeenSet reads the scope's seen-set. The returned set is never nil: on a
// read or decode failure it is empty and the error is returned alongside.
func LoadSeenSet(ctx context.Context, backend Backend, scope string) (*SeenSet, error) {
	data, err := backend.Load(ctx, seenKey(scope))
	if err != nil {
		return NewSeenSet(), fmt.Errorf("load seen-set %q: %w", scope, err)
	}
	if len(data) == 0 {
		return NewSeenSet(), nil
	}
	var doc seenDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewSeenSet(), fmt.Errorf("decode seen-set %q: %w: %v", scope, ErrCorruptState, err)
	}
	return NewSeenSet(doc.Keys...), nil
}

// SaveSeenSet writes the set after applying eviction for maxSize.
func SaveSeenSet(ctx context.Context, backend Backend, scope string, set *SeenSet, maxSize int) error {
	set.EvictOldestIfOverCapacity(maxSize)
	payload, err := json.Marshal(seenDocument{Keys: set.keys})
	if err != nil {
		return fmt.Errorf("encode seen-set %q: %w", scope, err)
	}
	if err := backend.Save(ctx, seenKey(scope), payload); err != nil {
		return fmt.Errorf("save seen-set %q: %w", scope, err)
	}
	return nil
}
