package channels

import (
	"context"

	"go.uber.org/fx"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/channels/discord"
	"tavernbot/pkg/config"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
)

// Module is the fx module for channels. The Discord channel doubles as the
// gateway implementation, so it is provided even when disabled; it only
// connects on start.
var Module = fx.Module("channels",
	fx.Provide(NewChannelManager),
	fx.Provide(
		fx.Annotate(
			discord.New,
			fx.As(new(gateway.Gateway)),
			fx.As(fx.Self()),
		),
	),
	fx.Invoke(RegisterChannels),
)

// NewChannelManager creates the channel manager for fx.
func NewChannelManager(
	lc fx.Lifecycle,
	log *logger.Logger,
	messageBus bus.Bus,
) *Manager {
	manager := NewManager(log, messageBus)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return manager.Start()
		},
		OnStop: func(ctx context.Context) error {
			return manager.Stop()
		},
	})

	return manager
}

// RegisterChannels registers the platform channels and binds the dispatcher
// as the inbound handler.
func RegisterChannels(
	manager *Manager,
	log *logger.Logger,
	cfg *config.Config,
	discordChannel *discord.Channel,
	d *dispatch.Dispatcher,
) error {
	manager.BindInbound(d.Handle)

	if !cfg.Discord.Enabled {
		log.Warn("Discord channel disabled by configuration")
	}
	if err := manager.Register(discordChannel); err != nil {
		return err
	}

	return nil
}
