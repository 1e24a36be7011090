package auth

import "go.uber.org/fx"

// Module provides the admin checker.
var Module = fx.Module("auth",
	fx.Provide(NewChecker),
)
