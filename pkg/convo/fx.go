package convo

import (
	"context"

	"go.uber.org/fx"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/settings"
)

// dmPriority routes direct messages into active walkthroughs ahead of the
// other passive handlers.
const dmPriority = 10

// Module provides the conversation engine and routes DM traffic into it.
var Module = fx.Module("convo",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterDirectHandler),
)

// RegisterDirectHandler feeds direct messages that did not match a command
// into the user's active walkthrough.
func RegisterDirectHandler(e *Engine, d *dispatch.Dispatcher) {
	d.AddPassive(&dispatch.Passive{
		Name:     "walkthrough-dm",
		Priority: dmPriority,
		Fn: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
			if msg.Event != bus.EventMessage || !msg.DM {
				return false, nil
			}
			return e.HandleDirect(ctx, msg.UserID, msg.Content), nil
		},
	})
}
