// Package config provides configuration management for tavernbot.
// It uses Viper for flexible configuration loading with support for
// YAML files, environment variables, defaults, and hot-reload.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// Config represents the complete tavernbot configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot" yaml:"bot"`
	Discord   DiscordConfig   `mapstructure:"discord" yaml:"discord"`
	State     StateConfig     `mapstructure:"state" yaml:"state"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Bus       BusConfig       `mapstructure:"bus" yaml:"bus"`
	Cron      CronConfig      `mapstructure:"cron" yaml:"cron"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`

	mu   sync.RWMutex
	path string
}

// BotConfig contains dispatcher-level settings.
type BotConfig struct {
	// DefaultPrefix is the process-wide command prefix used when a guild
	// has not configured its own.
	DefaultPrefix string `mapstructure:"default_prefix" yaml:"default_prefix"`

	// DevMode isolates test traffic: every matched prefix is decorated
	// with DevMarker so a dev instance can share a backing store with
	// production without answering production commands.
	DevMode   bool   `mapstructure:"dev_mode" yaml:"dev_mode"`
	DevMarker string `mapstructure:"dev_marker" yaml:"dev_marker"`

	// Presence is the status text set on connect.
	Presence string `mapstructure:"presence" yaml:"presence"`

	// ReplyDelay is the cosmetic pause in milliseconds before outbound
	// replies. Zero disables the pause.
	ReplyDelay int `mapstructure:"reply_delay_ms" yaml:"reply_delay_ms"`
}

// DiscordConfig for the Discord gateway.
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"token"`
}

// StateConfig selects the key-value persistence backend.
type StateConfig struct {
	// Backend is "file" or "redis".
	Backend  string `mapstructure:"backend" yaml:"backend"`
	FilePath string `mapstructure:"file_path" yaml:"file_path"`
	// Prefix namespaces keys in the redis backend.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// RedisConfig contains shared Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// BusConfig selects the message bus backend.
type BusConfig struct {
	// Backend is "local" or "redis".
	Backend    string `mapstructure:"backend" yaml:"backend"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// CronConfig for the job scheduler.
type CronConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// HeartbeatConfig for the liveness ticker.
type HeartbeatConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// IntervalMinutes is the beat interval. Zero means the default.
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`
}

// LoggingConfig for the logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	Dev        bool   `mapstructure:"dev" yaml:"dev"`
}

// DefaultConfig returns a configuration with documented defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".tavernbot")

	return &Config{
		Bot: BotConfig{
			DefaultPrefix: "?",
			DevMarker:     "dev!",
			Presence:      "?help",
			ReplyDelay:    500,
		},
		Discord: DiscordConfig{
			Enabled: true,
		},
		State: StateConfig{
			Backend:  "file",
			FilePath: filepath.Join(dataDir, "state.json"),
			Prefix:   "tavernbot",
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		Bus: BusConfig{
			Backend:    "local",
			BufferSize: 100,
		},
		Cron: CronConfig{
			Enabled: true,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         true,
			IntervalMinutes: 15,
		},
		Logging: LoggingConfig{
			Level:      "info",
			OutputPath: filepath.Join(dataDir, "logs", "tavernbot.log"),
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Path returns the config file path the configuration was loaded from.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// EffectivePrefix returns the process-wide prefix, decorated with the dev
// marker when dev mode is active.
func (c *Config) EffectivePrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Bot.DevMode {
		return c.Bot.DevMarker + c.Bot.DefaultPrefix
	}
	return c.Bot.DefaultPrefix
}

// DecoratePrefix applies the dev marker to a resolved prefix when dev mode
// is active. Guild-configured prefixes go through this too, so a dev
// instance sharing a production store never matches undecorated traffic.
func (c *Config) DecoratePrefix(prefix string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Bot.DevMode {
		return c.Bot.DevMarker + prefix
	}
	return prefix
}

// Replace swaps the configuration contents in place. Used by the watcher
// so holders of the *Config pointer observe reloaded values.
func (c *Config) Replace(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bot = next.Bot
	c.Discord = next.Discord
	c.State = next.State
	c.Redis = next.Redis
	c.Bus = next.Bus
	c.Cron = next.Cron
	c.Heartbeat = next.Heartbeat
	c.Logging = next.Logging
}
