package dispatch

import "go.uber.org/fx"

// Module provides the dispatcher. Binding it to the bus happens in the app
// assembly once the channels are registered.
var Module = fx.Module("dispatch",
	fx.Provide(NewDispatcher),
)
