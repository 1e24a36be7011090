package heartbeat

import (
	"context"

	"go.uber.org/fx"
)

// Module is the fx module for the heartbeat ticker.
var Module = fx.Module("heartbeat",
	fx.Provide(NewService),
	fx.Invoke(StartHeartbeat),
)

// StartHeartbeat hooks the heartbeat into the app lifecycle. Disabled
// configuration skips the hooks entirely.
func StartHeartbeat(lc fx.Lifecycle, service *Service) {
	if !service.cfg.Heartbeat.Enabled {
		service.log.Info("Heartbeat disabled by configuration")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return service.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return service.Stop(ctx)
		},
	})
}
