package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Axis identifies one of the four independent watch dimensions.
type Axis string

const (
	AxisHandleA Axis = "handle_a"
	AxisHandleB Axis = "handle_b"
	AxisAddress Axis = "address"
	AxisKeyword Axis = "keyword"
)

// Axes lists every axis in display order.
var Axes = []Axis{AxisHandleA, AxisHandleB, AxisAddress, AxisKeyword}

// ParseAxis accepts the canonical axis names plus the common aliases used by
// the CLI and HTTP API ("x", "twitter", "farcaster", "fc", "wallet").
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "handle_a", "a", "x", "twitter":
		return AxisHandleA, nil
	case "handle_b", "b", "farcaster", "fc":
		return AxisHandleB, nil
	case "address", "addr", "wallet":
		return AxisAddress, nil
	case "keyword", "kw", "text":
		return AxisKeyword, nil
	}
	return "", fmt.Errorf("unknown watch axis %q", s)
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lowercases and trims an address. It does not validate.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidAddress reports whether s (after normalization) is a 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(NormalizeAddress(s))
}

// NormalizeHandleA trims, lowercases and strips a leading @.
func NormalizeHandleA(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "@")
}

// NormalizeHandleB trims and lowercases.
func NormalizeHandleB(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize returns the comparison form of value for the axis.
func (a Axis) Normalize(value string) string {
	switch a {
	case AxisHandleA:
		return NormalizeHandleA(value)
	case AxisHandleB:
		return NormalizeHandleB(value)
	case AxisAddress:
		return NormalizeAddress(value)
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

// WatchSets is the effective, normalized watch list the detector consults.
// Every value is in comparison form.
type WatchSets struct {
	HandleA  map[string]struct{}
	HandleB  map[string]struct{}
	Address  map[string]struct{}
	Keywords []string
}

// NewWatchSets returns empty, ready-to-use sets.
func NewWatchSets() WatchSets {
	return WatchSets{
		HandleA: make(map[string]struct{}),
		HandleB: make(map[string]struct{}),
		Address: make(map[string]struct{}),
	}
}

// Add inserts value on axis in comparison form. Invalid addresses are dropped.
func (w *WatchSets) Add(axis Axis, value string) {
	norm := axis.Normalize(value)
	if norm == "" {
		return
	}
	switch axis {
	case AxisHandleA:
		w.HandleA[norm] = struct{}{}
	case AxisHandleB:
		w.HandleB[norm] = struct{}{}
	case AxisAddress:
		if ValidAddress(norm) {
			w.Address[norm] = struct{}{}
		}
	case AxisKeyword:
		for _, k := range w.Keywords {
			if k == norm {
				return
			}
		}
		w.Keywords = append(w.Keywords, norm)
	}
}

// Empty reports whether no watch entry exists on any axis.
func (w WatchSets) Empty() bool {
	return len(w.HandleA) == 0 && len(w.HandleB) == 0 && len(w.Address) == 0 && len(w.Keywords) == 0
}

// WatchList is the display form of a scope's watch entries.
// HandleA, HandleB and Address are sorted; Keywords are sorted case-insensitively
// and keep their original casing.
type WatchList struct {
	HandleA  []string `json:"handle_a" yaml:"handle_a,omitempty"`
	HandleB  []string `json:"handle_b" yaml:"handle_b,omitempty"`
	Address  []string `json:"address" yaml:"address,omitempty"`
	Keywords []string `json:"keyword" yaml:"keyword,omitempty"`
}

// Values returns the list for one axis.
func (l WatchList) Values(axis Axis) []string {
	switch axis {
	case AxisHandleA:
		return l.HandleA
	case AxisHandleB:
		return l.HandleB
	case AxisAddress:
		return l.Address
	case AxisKeyword:
		return l.Keywords
	}
	return nil
}
