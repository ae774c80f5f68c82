// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/launchwatch/engine/internal/store"
)

// Config holds all configuration values for the launchwatch engine.
type Config struct {
	// Network
	NetworkScope int

	// Scheduling
	PollInterval time.Duration
	CycleTimeout time.Duration

	// Upstream sources
	SourceAPIURL     string
	SourceAPIKey     string
	SourceGraphQLURL string
	SourceRPCURL     string
	FactoryAddress   string
	RPCLookback      int
	SourcePriority   []string

	// Upstream resilience
	UpstreamRPS     float64
	UpstreamTimeout time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration

	// State
	StateDSN    string
	SeenMaxSize int

	// General filter
	Filter store.FilterConfig

	// Alerting
	DiscordWebhookURL      string
	DiscordWatchWebhookURL string

	// Global watch defaults
	WatchDefaults store.WatchList

	// Tenants
	TenantsFile string

	// HTTP
	HTTPAddr string

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadLocal is Load without the upstream source checks, for commands that only
// touch local state (watch and tenant management).
func LoadLocal() (*Config, error) {
	cfg := read()
	if err := cfg.validateLocal(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func read() *Config {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		NetworkScope: getEnvInt("NETWORK_SCOPE", 8453),

		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 120)) * time.Second,
		CycleTimeout: time.Duration(getEnvInt("CYCLE_TIMEOUT_SECONDS", 90)) * time.Second,

		SourceAPIURL:     getEnv("SOURCE_API_URL", ""),
		SourceAPIKey:     getEnv("SOURCE_API_KEY", ""),
		SourceGraphQLURL: getEnv("SOURCE_GRAPHQL_URL", ""),
		SourceRPCURL:     getEnv("SOURCE_RPC_URL", ""),
		FactoryAddress:   store.NormalizeAddress(getEnv("FACTORY_ADDRESS", "")),
		RPCLookback:      getEnvInt("RPC_LOOKBACK_BLOCKS", 500),
		SourcePriority:   getEnvList("SOURCE_PRIORITY", []string{"api", "graphql", "rpc"}),

		UpstreamRPS:     getEnvFloat("UPSTREAM_RPS", 2),
		UpstreamTimeout: time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 20)) * time.Second,
		BreakerFailures: getEnvInt("BREAKER_FAILURES", 3),
		BreakerCooldown: time.Duration(getEnvInt("BREAKER_COOLDOWN_SECONDS", 60)) * time.Second,

		StateDSN:    getEnv("STATE_DSN", "file://./data/state"),
		SeenMaxSize: getEnvInt("SEEN_MAX_SIZE", 5000),

		Filter: store.FilterConfig{
			RequireSharedIdentity: getEnvBool("REQUIRE_SHARED_IDENTITY", false),
			MaxItemsPerActor:      getEnvOptionalInt("MAX_ITEMS_PER_ACTOR"),
		},

		DiscordWebhookURL:      getEnv("DISCORD_WEBHOOK_URL", ""),
		DiscordWatchWebhookURL: getEnv("DISCORD_WATCH_WEBHOOK_URL", ""),

		WatchDefaults: store.WatchList{
			HandleA:  getEnvList("WATCH_HANDLES_A", nil),
			HandleB:  getEnvList("WATCH_HANDLES_B", nil),
			Address:  getEnvList("WATCH_ADDRESSES", nil),
			Keywords: getEnvList("WATCH_KEYWORDS", nil),
		},

		TenantsFile: getEnv("TENANTS_FILE", ""),

		HTTPAddr: getEnv("HTTP_ADDR", "127.0.0.1:8080"),

		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogFile:  getEnv("LOG_FILE", "./data/launchwatch.log"),
	}
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.SourceAPIURL == "" && c.SourceGraphQLURL == "" && c.SourceRPCURL == "" {
		return fmt.Errorf("at least one of SOURCE_API_URL, SOURCE_GRAPHQL_URL, SOURCE_RPC_URL is required")
	}

	if c.SourceRPCURL != "" && !store.ValidAddress(c.FactoryAddress) {
		return fmt.Errorf("FACTORY_ADDRESS must be a valid address when SOURCE_RPC_URL is set")
	}

	return c.validateLocal()
}

func (c *Config) validateLocal() error {
	if c.NetworkScope <= 0 {
		return fmt.Errorf("NETWORK_SCOPE must be positive")
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1")
	}

	if c.CycleTimeout <= 0 {
		return fmt.Errorf("CYCLE_TIMEOUT_SECONDS must be positive")
	}

	if len(c.SourcePriority) == 0 {
		return fmt.Errorf("SOURCE_PRIORITY must name at least one source")
	}

	if c.UpstreamRPS <= 0 {
		return fmt.Errorf("UPSTREAM_RPS must be positive")
	}

	if c.SeenMaxSize < 0 {
		return fmt.Errorf("SEEN_MAX_SIZE must not be negative")
	}

	if c.Filter.MaxItemsPerActor != nil && *c.Filter.MaxItemsPerActor < 0 {
		return fmt.Errorf("MAX_ITEMS_PER_ACTOR must not be negative")
	}

	if c.StateDSN == "" {
		return fmt.Errorf("STATE_DSN is required")
	}

	return nil
}

// GlobalTenant is the implicit tenant used when no tenant records exist.
func (c *Config) GlobalTenant(id string) store.Tenant {
	return store.Tenant{
		ID:             id,
		Name:           "global",
		GeneralWebhook: c.DiscordWebhookURL,
		WatchWebhook:   c.DiscordWatchWebhookURL,
		Filter:         c.Filter,
		PollInterval:   c.PollInterval,
	}
}

// MaskedAPIKey returns the API key with most characters hidden for logging.
func (c *Config) MaskedAPIKey() string {
	return maskSecret(c.SourceAPIKey)
}

// MaskedDiscordWebhook returns the webhook URL with most characters hidden for logging.
func (c *Config) MaskedDiscordWebhook() string {
	return maskSecret(c.DiscordWebhookURL)
}

// MaskedDiscordWatchWebhook masks the watch-surface webhook.
func (c *Config) MaskedDiscordWatchWebhook() string {
	return maskSecret(c.DiscordWatchWebhookURL)
}

// MaskSecret hides all but the first and last 4 characters of a secret.
func MaskSecret(s string) string {
	return maskSecret(s)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOptionalInt returns nil when the variable is unset or not an integer.
func getEnvOptionalInt(key string) *int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &intVal
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
