package config

import (
	"context"

	"go.uber.org/fx"

	"tavernbot/pkg/logger"
)

// Module provides configuration for fx dependency injection.
var Module = fx.Module("config",
	fx.Provide(ProvideLoader),
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLoggerConfig),
	fx.Provide(ProvideWatcher),
)

// ProvideLoader provides a configuration loader.
func ProvideLoader() *Loader {
	return NewLoader()
}

// ProvideConfig provides loaded configuration.
func ProvideConfig(loader *Loader) (*Config, error) {
	return loader.Load("")
}

// ProvideLoggerConfig derives the logger configuration.
func ProvideLoggerConfig(cfg *Config) *logger.Config {
	lc := logger.DefaultConfig()
	if cfg.Logging.Level != "" {
		lc.Level = logger.Level(cfg.Logging.Level)
	}
	lc.OutputPath = cfg.Logging.OutputPath
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSize = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		lc.MaxAge = cfg.Logging.MaxAgeDays
	}
	lc.Compress = cfg.Logging.Compress
	lc.Development = cfg.Logging.Dev
	return lc
}

// ProvideWatcher provides a configuration watcher with hot-reload.
func ProvideWatcher(loader *Loader, cfg *Config, log *logger.Logger, lc fx.Lifecycle) *Watcher {
	watcher := NewWatcher(loader, cfg)

	watcher.AddHandler(func(c *Config) error {
		log.Info("Configuration reloaded")
		return nil
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return watcher.Start()
		},
		OnStop: func(ctx context.Context) error {
			watcher.Stop()
			return nil
		},
	})

	return watcher
}
