package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv overrides the config file location globally.
const ConfigPathEnv = "TAVERNBOT_CONFIG_FILE"

// Loader handles configuration loading with Viper.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tavernbot"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("TAVERNBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{viper: v}
}

// Load loads the configuration from file and environment variables.
// If configPath is empty, default paths are searched. A missing file is
// auto-created with defaults so first runs leave an editable template behind.
func (l *Loader) Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(configPath) == "" {
		configPath = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	explicitPath := strings.TrimSpace(configPath) != ""
	resolvedPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	if explicitPath {
		l.viper.SetConfigFile(resolvedPath)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			if err := SaveToFile(cfg, resolvedPath); err != nil {
				return nil, fmt.Errorf("creating config file: %w", err)
			}
			cfg.path = resolvedPath
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if !explicitPath {
		if used := strings.TrimSpace(l.viper.ConfigFileUsed()); used != "" {
			resolvedPath = used
		}
	}
	cfg.path = resolvedPath

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveConfigPath expands the config path, defaulting to ~/.tavernbot/config.yaml.
func resolveConfigPath(configPath string) (string, error) {
	if strings.TrimSpace(configPath) != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".tavernbot", "config.yaml"), nil
}

// SaveToFile writes the configuration as YAML.
func SaveToFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks configuration consistency.
func Validate(cfg *Config) error {
	switch cfg.State.Backend {
	case "", "file", "redis":
	default:
		return fmt.Errorf("unknown state backend: %s", cfg.State.Backend)
	}

	switch cfg.Bus.Backend {
	case "", "local", "redis":
	default:
		return fmt.Errorf("unknown bus backend: %s", cfg.Bus.Backend)
	}

	if cfg.State.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("state backend is redis but redis.addr is empty")
	}
	if cfg.Bus.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("bus backend is redis but redis.addr is empty")
	}

	if cfg.Bot.DefaultPrefix == "" {
		return fmt.Errorf("bot.default_prefix must not be empty")
	}
	if cfg.Bot.DevMode && cfg.Bot.DevMarker == "" {
		return fmt.Errorf("bot.dev_mode requires bot.dev_marker")
	}

	return nil
}
