package characters

import (
	"go.uber.org/fx"

	"tavernbot/pkg/commands"
)

// Module provides the character store and service, and registers the
// character command family.
var Module = fx.Module("characters",
	fx.Provide(NewStore, NewService),
	fx.Invoke(func(s *Service, reg *commands.Registry) error {
		return s.Register(reg)
	}),
)
