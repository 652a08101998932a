// Package discord is a slimmed Discord channel adapter: it normalizes
// guild/DM message events into bus.LaneMessage values for the Connection
// Dispatcher. Agent-runtime concerns the teacher's adapter carried —
// placeholder "Thinking..." messages, typing indicators, pairing flows,
// outbound replies, group history buffering — have no home here, since this
// gateway only moves traffic toward edge nodes; it does not itself reply.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/channels"
	"github.com/relaytide/edgegateway/internal/config"
)

// Channel connects to Discord via the gateway API and emits one
// bus.LaneMessage per accepted inbound message.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	config         config.DiscordConfig
	botUserID      string
	requireMention bool
}

// New builds a Discord channel from cfg. emit receives every accepted
// inbound message.
func New(cfg config.DiscordConfig, emit channels.EmitFunc) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", emit, cfg.AllowFrom, cfg.RateLimitPerMinute),
		session:        session,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	slog.Info("discord.connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	isDM := m.GuildID == ""
	dmPolicy := channels.DMPolicy(c.config.DMPolicy)
	if dmPolicy == "" {
		dmPolicy = channels.DMPolicyOpen
	}
	groupPolicy := channels.GroupPolicy(c.config.GroupPolicy)
	if groupPolicy == "" {
		groupPolicy = channels.GroupPolicyOpen
	}

	peerKind := "group"
	messageType := bus.MessageTypeGroup
	if isDM {
		peerKind = "dm"
		messageType = bus.MessageTypeDM
	}

	if !c.CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID) {
		slog.Debug("discord.message_rejected", "user_id", senderID, "peer_kind", peerKind)
		return
	}

	if peerKind == "group" && c.requireMention && !mentionsBot(m, c.botUserID) {
		slog.Debug("discord.group_message_ignored_no_mention", "channel_id", m.ChannelID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	routing := bus.RoutingContext{PeerID: m.ChannelID, GroupID: m.GuildID, MessageType: messageType}
	lane := bus.LaneCollect
	c.HandleMessage(senderID, routing, lane, []byte(content))
}

func mentionsBot(m *discordgo.MessageCreate, botUserID string) bool {
	for _, u := range m.Mentions {
		if u.ID == botUserID {
			return true
		}
	}
	return false
}
