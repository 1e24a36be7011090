package commands

import (
	"go.uber.org/fx"

	"tavernbot/pkg/config"
)

// Module provides the command registry.
var Module = fx.Module("commands",
	fx.Provide(func(cfg *config.Config) *Registry {
		return NewRegistry(cfg.EffectivePrefix())
	}),
)
