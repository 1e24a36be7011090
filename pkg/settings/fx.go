package settings

import (
	"go.uber.org/fx"

	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

// Module is the fx module for the settings store.
var Module = fx.Module("settings",
	fx.Provide(ProvideStore),
)

// ProvideStore creates the settings store for fx.
func ProvideStore(log *logger.Logger, kv state.KV) *Store {
	return NewStore(log, kv)
}
