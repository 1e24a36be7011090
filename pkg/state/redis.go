package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tavernbot/pkg/logger"
)

// RedisStore is a Redis-based key-value store.
type RedisStore struct {
	log    *logger.Logger
	client *redis.Client
	prefix string
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	Addr     string // Redis address (host:port)
	Password string // Redis password
	DB       int    // Redis database number
	Prefix   string // Key prefix for namespacing
}

// NewRedisStore creates a new Redis-based state store.
func NewRedisStore(log *logger.Logger, cfg *RedisStoreConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "tavernbot:"
	}
	if !strings.HasSuffix(cfg.Prefix, ":") {
		cfg.Prefix += ":"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	s := &RedisStore{
		log:    log,
		client: client,
		prefix: cfg.Prefix,
	}

	log.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("prefix", cfg.Prefix))

	return s, nil
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// Get retrieves the raw JSON value stored under key. A stored value that is
// not valid JSON is logged and reported as absent.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	raw := json.RawMessage(val)
	if !json.Valid(raw) {
		s.log.Warn("Stored value is not valid JSON, treating as absent",
			zap.String("key", key))
		return nil, false, nil
	}

	return raw, true, nil
}

// Set marshals value to JSON and stores it under key.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}

	if err := s.client.Set(ctx, s.prefixKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys returns all keys in the store, with the namespace prefix removed.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}

	result := make([]string, len(keys))
	for i, key := range keys {
		result[i] = strings.TrimPrefix(key, s.prefix)
	}

	return result, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
