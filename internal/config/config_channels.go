package config

// ChannelsConfig holds the two adapter configs this gateway ships:
// Discord and Telegram. The teacher carries five (plus Slack/WhatsApp/
// Zalo/Feishu); those are dropped here because the spec's adapters are
// illustrative collaborators, not a chat-platform catalog (see DESIGN.md).
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env EDGEGATEWAY_DISCORD_TOKEN only
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`    // pairing|allowlist|open|disabled, default open
	GroupPolicy    string              `json:"group_policy,omitempty"` // open|allowlist|disabled, default open
	RequireMention *bool               `json:"require_mention,omitempty"`
	// RateLimitPerMinute caps inbound messages per sender per 60s window
	// before they reach the dispatcher. 0 uses the channel package default.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"-"` // from env EDGEGATEWAY_TELEGRAM_TOKEN only
	AllowFrom     FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy      string              `json:"dm_policy,omitempty"`
	GroupPolicy   string              `json:"group_policy,omitempty"`
	MediaMaxBytes int64               `json:"media_max_bytes,omitempty"` // default 20MB
	Proxy         string              `json:"proxy,omitempty"`
	// RateLimitPerMinute caps inbound messages per sender per 60s window
	// before they reach the dispatcher. 0 uses the channel package default.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
}
