// Package telegram is a slimmed Telegram channel adapter: it polls the Bot
// API and normalizes inbound messages into bus.LaneMessage values for the
// Connection Dispatcher. The teacher's command menu, streaming draft
// preview, status reactions, and STT pipeline belong to the agent runtime
// this gateway does not carry forward; only polling, policy checks, and
// photo sanitization survive here.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/channels"
	"github.com/relaytide/edgegateway/internal/config"
)

// Channel connects to Telegram via long polling and emits one
// bus.LaneMessage per accepted inbound message.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	config         config.TelegramConfig
	requireMention bool
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
}

// New builds a Telegram channel from cfg. emit receives every accepted
// inbound message.
func New(cfg config.TelegramConfig, emit channels.EmitFunc) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", emit, cfg.AllowFrom, cfg.RateLimitPerMinute),
		bot:            bot,
		config:         cfg,
		requireMention: true,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram.connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit so
// Telegram releases the getUpdates lock before another instance can start.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram.poll_stop_timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	senderID := fmt.Sprintf("%d", msg.From.ID)
	isGroup := msg.Chat.Type == telego.ChatTypeGroup || msg.Chat.Type == telego.ChatTypeSupergroup
	peerKind := "dm"
	messageType := bus.MessageTypeDM
	if isGroup {
		peerKind = "group"
		messageType = bus.MessageTypeGroup
	}

	dmPolicy := channels.DMPolicy(c.config.DMPolicy)
	if dmPolicy == "" {
		dmPolicy = channels.DMPolicyOpen
	}
	groupPolicy := channels.GroupPolicy(c.config.GroupPolicy)
	if groupPolicy == "" {
		groupPolicy = channels.GroupPolicyOpen
	}
	if !c.CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID) {
		slog.Debug("telegram.message_rejected", "user_id", senderID, "peer_kind", peerKind)
		return
	}

	if isGroup && c.requireMention && !mentionsBot(msg, c.bot.Username()) {
		return
	}

	content := msg.Text
	for _, m := range c.resolveMedia(ctx, msg) {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[media:%s]", m.Type)
	}
	if content == "" {
		return
	}

	chatID := fmt.Sprintf("%d", msg.Chat.ID)
	routing := bus.RoutingContext{PeerID: chatID, MessageType: messageType}
	c.HandleMessage(senderID, routing, bus.LaneCollect, []byte(content))
}

func mentionsBot(msg *telego.Message, username string) bool {
	if username == "" {
		return true
	}
	needle := "@" + username
	for _, e := range msg.Entities {
		if e.Type == telego.EntityTypeMention {
			start, end := e.Offset, e.Offset+e.Length
			if start >= 0 && end <= len([]rune(msg.Text)) {
				mention := string([]rune(msg.Text)[start:end])
				if mention == needle {
					return true
				}
			}
		}
	}
	return false
}
