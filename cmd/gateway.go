package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaytide/edgegateway/internal/bus"
	"github.com/relaytide/edgegateway/internal/channels"
	"github.com/relaytide/edgegateway/internal/channels/discord"
	"github.com/relaytide/edgegateway/internal/channels/telegram"
	"github.com/relaytide/edgegateway/internal/clock"
	"github.com/relaytide/edgegateway/internal/config"
	"github.com/relaytide/edgegateway/internal/convroute"
	"github.com/relaytide/edgegateway/internal/delivery"
	"github.com/relaytide/edgegateway/internal/gateway"
	"github.com/relaytide/edgegateway/internal/sessionfsm"
	"github.com/relaytide/edgegateway/internal/snapshot"
	"github.com/relaytide/edgegateway/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config.load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	slog.Info("config.loaded", "path", cfgPath, "hash", cfg.Hash())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry.setup_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry.shutdown_failed", "error", err)
		}
	}()

	cl := clock.Real{}
	sessions := sessionfsm.NewManager(cl, cfg.Gateway.SessionTimeout.AsDuration(), cfg.Gateway.SuspendTimeout.AsDuration())
	conversations := convroute.NewStore(cl, cfg.Gateway.MaxConversations, cfg.Gateway.ConversationTTL.AsDuration())
	tracker := delivery.NewTracker(0)

	validator, err := snapshot.NewSchemaValidator()
	if err != nil {
		slog.Error("snapshot.schema_load_failed", "error", err)
		os.Exit(1)
	}
	engine := snapshot.NewEngine(conversations, sessions, tracker, validator)

	server := gateway.NewServer(cl, cfg, sessions, conversations, tracker, engine, nil)

	configSchema, err := config.NewSchemaValidator()
	if err != nil {
		slog.Error("config.schema_load_failed", "error", err)
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(cfgPath, cfg, configSchema, 500*time.Millisecond)
	if err != nil {
		slog.Error("config.watcher_init_failed", "error", err)
		os.Exit(1)
	}
	watcher.OnUpdated(server.ApplyHotConfig)
	watcher.OnRestartRequired(func(changed []string) {
		slog.Warn("config.restart_required", "fields", changed)
	})
	watcher.OnError(func(err error) {
		slog.Error("config.reload_failed", "error", err)
	})
	if err := watcher.Start(); err != nil {
		slog.Error("config.watcher_start_failed", "error", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	channelMgr := channels.NewManager()

	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.Token == "" {
			slog.Error("discord.enabled_without_token")
			os.Exit(1)
		}
		ch, err := discord.New(cfg.Channels.Discord, dispatchFunc(ctx, server, cfg, "discord"))
		if err != nil {
			slog.Error("discord.init_failed", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("discord", ch)
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			slog.Error("telegram.enabled_without_token")
			os.Exit(1)
		}
		ch, err := telegram.New(cfg.Channels.Telegram, dispatchFunc(ctx, server, cfg, "telegram"))
		if err != nil {
			slog.Error("telegram.init_failed", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("telegram", ch)
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("channels.start_failed", "error", err)
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway.start_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway.listening", "port", cfg.Gateway.Port)

	<-ctx.Done()
	slog.Info("gateway.shutting_down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := channelMgr.StopAll(stopCtx); err != nil {
		slog.Warn("channels.stop_failed", "error", err)
	}
	if err := server.Stop(); err != nil {
		slog.Warn("gateway.stop_failed", "error", err)
	}
}

// dispatchFunc adapts a channel's EmitFunc into a call against the
// Connection Dispatcher, resolving the conversation key from the
// channel's routing context and the gateway's configured defaults.
func dispatchFunc(ctx context.Context, server *gateway.Server, cfg *config.Config, channelName string) channels.EmitFunc {
	return func(msg bus.LaneMessage) {
		in := convroute.ResolveInput{
			Scope:     convroute.Scope(cfg.Gateway.DefaultConversationScope),
			AgentID:   cfg.Gateway.DefaultAgentID,
			ChannelID: channelName,
		}
		if msg.RoutingContext != nil {
			in.PeerID = msg.RoutingContext.PeerID
			in.AccountID = msg.RoutingContext.AccountID
			in.GroupID = msg.RoutingContext.GroupID
			in.MessageType = msg.RoutingContext.MessageType
		}
		if err := server.Dispatch(ctx, in, msg); err != nil {
			slog.Warn("dispatch.failed", "channel", channelName, "error", err)
		}
	}
}
