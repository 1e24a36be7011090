// Package state provides persistent key-value storage with multiple backend support.
// Values are opaque JSON documents; interpretation is left to callers.
package state

import (
	"context"
	"encoding/json"
)

// KV is the interface for key-value storage backends.
type KV interface {
	// Get retrieves the raw JSON value stored under key.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set marshals value to JSON and stores it under key.
	Set(ctx context.Context, key string, value interface{}) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys in the store.
	Keys(ctx context.Context) ([]string, error)

	// Close closes the store and performs cleanup.
	Close() error
}

// BackendType represents the storage backend type.
type BackendType string

const (
	BackendFile  BackendType = "file"
	BackendRedis BackendType = "redis"
)

// Config configures the state store.
type Config struct {
	Backend BackendType // Storage backend (file or redis)

	// File backend config
	FilePath      string // Path to state file
	AutoSave      bool   // Enable auto-save (file backend only)
	SaveIntervalS int    // Auto-save interval in seconds (file backend only)

	// Redis backend config
	RedisAddr     string // Redis address (host:port)
	RedisPassword string // Redis password
	RedisDB       int    // Redis database number
	RedisPrefix   string // Key prefix for namespacing
}
