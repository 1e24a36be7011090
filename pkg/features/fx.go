package features

import (
	"go.uber.org/fx"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/cron"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/features/core"
	"tavernbot/pkg/features/dice"
	"tavernbot/pkg/features/responses"
	"tavernbot/pkg/features/rss"
	"tavernbot/pkg/features/votes"
	"tavernbot/pkg/features/welcome"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
	"tavernbot/pkg/state"
)

// Module registers the built-in features. Core goes first so help/cfg/refresh
// take the earliest command-scan slots.
var Module = fx.Module("features",
	fx.Invoke(func(
		log *logger.Logger,
		cfg *config.Config,
		registry *commands.Registry,
		store *settings.Store,
		checker *auth.Checker,
		gw gateway.Gateway,
		d *dispatch.Dispatcher,
		kv state.KV,
		manager *cron.Manager,
		b bus.Bus,
	) error {
		return RegisterAll(log,
			core.New(log, cfg, registry, store, checker, gw),
			dice.New(log, registry),
			votes.New(log, registry, d),
			responses.New(log, registry, d, store, b),
			rss.New(log, registry, store, kv, manager, b),
			welcome.New(log, d, gw, b),
		)
	}),
)
