package cron

import (
	"context"

	"go.uber.org/fx"

	"tavernbot/pkg/config"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

// Module is the fx module for cron.
var Module = fx.Module("cron",
	fx.Provide(NewManager),
	fx.Invoke(RegisterCommands),
)

// NewManager creates the cron manager and hooks it into the app lifecycle.
// The scheduler only starts when cron is enabled in configuration.
func NewManager(
	lc fx.Lifecycle,
	log *logger.Logger,
	cfg *config.Config,
	kv state.KV,
) *Manager {
	manager := New(log, kv)

	if !cfg.Cron.Enabled {
		log.Info("Cron manager disabled by configuration")
		return manager
	}

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
