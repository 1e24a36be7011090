package bus

import (
	"context"

	"go.uber.org/fx"

	"tavernbot/pkg/config"
	"tavernbot/pkg/logger"
)

// Module is the fx module for the message bus.
var Module = fx.Module("bus",
	fx.Provide(NewBusFromConfig),
)

// NewBusFromConfig creates a bus for fx based on configuration.
func NewBusFromConfig(
	lc fx.Lifecycle,
	log *logger.Logger,
	cfg *config.Config,
) (Bus, error) {
	busCfg := &Config{
		Type:       BusType(cfg.Bus.Backend),
		BufferSize: cfg.Bus.BufferSize,
	}
	if cfg.Redis.Addr != "" {
		busCfg.RedisAddr = cfg.Redis.Addr
		busCfg.RedisPassword = cfg.Redis.Password
		busCfg.RedisDB = cfg.Redis.DB
	}

	b, err := NewBus(log, busCfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Start()
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop()
		},
	})

	return b, nil
}
