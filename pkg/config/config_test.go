package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}

	if cfg.Bot.DefaultPrefix != "?" {
		t.Errorf("expected default prefix '?', got %q", cfg.Bot.DefaultPrefix)
	}
	if cfg.Path() != path {
		t.Errorf("expected path %q, got %q", path, cfg.Path())
	}
}

func TestLoadExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	content := []byte("bot:\n  default_prefix: \"!\"\n  dev_mode: true\n  dev_marker: \"dev!\"\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Bot.DefaultPrefix != "!" {
		t.Errorf("expected prefix '!', got %q", cfg.Bot.DefaultPrefix)
	}
	if got := cfg.EffectivePrefix(); got != "dev!!" {
		t.Errorf("expected dev-decorated prefix 'dev!!', got %q", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.State.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for redis backend without addr")
	}

	cfg = DefaultConfig()
	cfg.Bot.DefaultPrefix = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty default prefix")
	}

	cfg = DefaultConfig()
	cfg.Bus.Backend = "kafka"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown bus backend")
	}
}
