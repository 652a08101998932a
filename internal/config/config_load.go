package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with the defaults named in spec §6.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			SessionTimeout:           Duration(60 * time.Second),
			SuspendTimeout:           Duration(300 * time.Second),
			HealthCheckInterval:      Duration(30 * time.Second),
			LaneCapacity:             256,
			MaxFramesPerSecond:       50,
			MaxConversations:         100000,
			ConversationTTL:          Duration(24 * time.Hour),
			DefaultConversationScope: "per-channel-peer",
			DefaultAgentID:           "default",
			Port:                     18790,
			MaxConnections:           10000,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — it just means "use defaults". The file is
// checked against the config schema before being unmarshaled, so a
// structurally invalid file (wrong type, unrecognized enum value) fails
// with a schema error rather than a confusing downstream zero-value bug.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}
	if err := validator.Validate(data); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values. The API key and channel tokens are set only
// here and never round-trip through JSON (see the `json:"-"` tags in
// config.go/config_channels.go).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("EDGEGATEWAY_NEXUS_API_KEY", &c.Gateway.NexusAPIKey)
	envStr("EDGEGATEWAY_NEXUS_URL", &c.Gateway.NexusURL)
	envStr("EDGEGATEWAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("EDGEGATEWAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	if v := os.Getenv("EDGEGATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("EDGEGATEWAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("EDGEGATEWAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("EDGEGATEWAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("EDGEGATEWAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 prefix of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
