package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/launchwatch/engine/internal/store"
)

// TenantSeed is one tenant entry in the optional TENANTS_FILE.
type TenantSeed struct {
	ID                  string             `yaml:"id"`
	Name                string             `yaml:"name"`
	GeneralWebhook      string             `yaml:"general_webhook"`
	WatchWebhook        string             `yaml:"watch_webhook"`
	Filter              store.FilterConfig `yaml:"filter"`
	PollIntervalSeconds int                `yaml:"poll_interval_seconds"`
	Watch               WatchSeed          `yaml:"watch"`
}

// WatchSeed lists a tenant's initial watch entries per axis.
type WatchSeed struct {
	HandlesA  []string `yaml:"handles_a"`
	HandlesB  []string `yaml:"handles_b"`
	Addresses []string `yaml:"addresses"`
	Keywords  []string `yaml:"keywords"`
}

type tenantsFile struct {
	Tenants []TenantSeed `yaml:"tenants"`
}

// Tenant converts the seed into a tenant record.
func (s TenantSeed) Tenant() store.Tenant {
	return store.Tenant{
		ID:             strings.TrimSpace(s.ID),
		Name:           strings.TrimSpace(s.Name),
		GeneralWebhook: strings.TrimSpace(s.GeneralWebhook),
		WatchWebhook:   strings.TrimSpace(s.WatchWebhook),
		Filter:         s.Filter,
		PollInterval:   time.Duration(s.PollIntervalSeconds) * time.Second,
	}
}

// WatchList converts the seed's watch entries.
func (s TenantSeed) WatchList() store.WatchList {
	return store.WatchList{
		HandleA:  s.Watch.HandlesA,
		HandleB:  s.Watch.HandlesB,
		Address:  s.Watch.Addresses,
		Keywords: s.Watch.Keywords,
	}
}

// LoadTenantSeeds reads the tenants YAML file. An empty path yields no seeds.
func LoadTenantSeeds(path string) ([]TenantSeed, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseTenantSeeds(data)
}

// ParseTenantSeeds decodes and validates a tenants document.
func ParseTenantSeeds(data []byte) ([]TenantSeed, error) {
	var doc tenantsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tenants file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Tenants))
	for i, seed := range doc.Tenants {
		id := strings.TrimSpace(seed.ID)
		if id == "" {
			return nil, fmt.Errorf("tenant %d: id is required", i)
		}
		if strings.EqualFold(id, "global") {
			return nil, fmt.Errorf("tenant %d: id %q is reserved", i, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("tenant %d: duplicate id %q", i, id)
		}
		seen[id] = true
		if seed.PollIntervalSeconds < 0 {
			return nil, fmt.Errorf("tenant %q: poll_interval_seconds must not be negative", id)
		}
		if limit := seed.Filter.MaxItemsPerActor; limit != nil && *limit < 0 {
			return nil, fmt.Errorf("tenant %q: max_items_per_actor must not be negative", id)
		}
	}
	return doc.Tenants, nil
}
