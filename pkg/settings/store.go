package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

// GuildSuffix is appended to guild IDs to derive the guild settings key.
const GuildSuffix = "_settings"

// GuildKey derives the storage key for a guild-scoped blob.
func GuildKey(guildID, suffix string) string {
	if suffix == "" {
		suffix = GuildSuffix
	}
	return guildID + suffix
}

// UserKey derives the storage key for a (guild, user) pair.
func UserKey(guildID, userID string) string {
	return guildID + "__" + userID
}

// Store reads and writes settings blobs through the state KV capability.
// Guild settings are cached in-process keyed by guild ID; the cache is
// replaced on save and dropped on Refresh. Single-instance deployments
// only: nothing invalidates the cache on external writers.
type Store struct {
	log *logger.Logger
	kv  state.KV

	mu    sync.RWMutex
	cache map[string]*GuildSettings
}

// NewStore creates a settings store over the given KV backend.
func NewStore(log *logger.Logger, kv state.KV) *Store {
	return &Store{
		log:   log,
		kv:    kv,
		cache: make(map[string]*GuildSettings),
	}
}

// Get retrieves the raw blob stored under scopeKey. Malformed stored JSON is
// logged and treated as absent so one corrupt record cannot break dispatch.
func (s *Store) Get(ctx context.Context, scopeKey string) (json.RawMessage, error) {
	raw, ok, err := s.kv.Get(ctx, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("settings get %q: %w", scopeKey, err)
	}
	if !ok {
		return nil, nil
	}
	if !json.Valid(raw) {
		s.log.Warn("Malformed settings blob, treating as absent", zap.String("key", scopeKey))
		return nil, nil
	}
	return raw, nil
}

// Set stores value under scopeKey and returns the stored JSON.
//
// With overwrite=false the value is shallow-merged onto the previously
// stored object (read-merge-write, last writer wins). With overwrite=true
// the value replaces the blob entirely; a nil value deletes the key.
func (s *Store) Set(ctx context.Context, scopeKey string, value interface{}, overwrite bool) (json.RawMessage, error) {
	if overwrite && value == nil {
		if err := s.kv.Delete(ctx, scopeKey); err != nil {
			return nil, fmt.Errorf("settings delete %q: %w", scopeKey, err)
		}
		return nil, nil
	}

	patch, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("settings marshal %q: %w", scopeKey, err)
	}

	var merged json.RawMessage
	if overwrite {
		merged = patch
	} else {
		prev, err := s.Get(ctx, scopeKey)
		if err != nil {
			return nil, err
		}
		merged, err = shallowMerge(prev, patch)
		if err != nil {
			return nil, fmt.Errorf("settings merge %q: %w", scopeKey, err)
		}
	}

	if err := s.kv.Set(ctx, scopeKey, json.RawMessage(merged)); err != nil {
		return nil, fmt.Errorf("settings set %q: %w", scopeKey, err)
	}
	return merged, nil
}

// Delete removes the blob stored under scopeKey.
func (s *Store) Delete(ctx context.Context, scopeKey string) error {
	if err := s.kv.Delete(ctx, scopeKey); err != nil {
		return fmt.Errorf("settings delete %q: %w", scopeKey, err)
	}
	return nil
}

// Guild returns the settings for a guild, loading them lazily on first
// access and caching them in-process. The returned pointer is shared; use
// SaveGuild to mutate.
func (s *Store) Guild(ctx context.Context, guildID string) (*GuildSettings, error) {
	s.mu.RLock()
	cached, ok := s.cache[guildID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := s.Get(ctx, GuildKey(guildID, ""))
	if err != nil {
		return nil, err
	}

	g := &GuildSettings{}
	if raw != nil {
		if err := json.Unmarshal(raw, g); err != nil {
			s.log.Warn("Malformed guild settings, using defaults",
				zap.String("guild", guildID), zap.Error(err))
			g = &GuildSettings{}
		}
	}

	s.mu.Lock()
	// A concurrent loader may have won the race; keep its entry.
	if existing, ok := s.cache[guildID]; ok {
		g = existing
	} else {
		s.cache[guildID] = g
	}
	s.mu.Unlock()

	return g, nil
}

// SaveGuild shallow-merges patch onto the guild's stored settings and
// replaces the cache entry so concurrent readers observe either the prior
// or the new value, never a torn state.
func (s *Store) SaveGuild(ctx context.Context, guildID string, patch interface{}) (*GuildSettings, error) {
	merged, err := s.Set(ctx, GuildKey(guildID, ""), patch, false)
	if err != nil {
		return nil, err
	}

	g := &GuildSettings{}
	if merged != nil {
		if err := json.Unmarshal(merged, g); err != nil {
			return nil, fmt.Errorf("decoding merged guild settings: %w", err)
		}
	}

	s.mu.Lock()
	s.cache[guildID] = g
	s.mu.Unlock()

	return g, nil
}

// Refresh drops the cache entry for a guild so the next access reloads from
// the backing store. Used by the admin refresh command.
func (s *Store) Refresh(guildID string) {
	s.mu.Lock()
	delete(s.cache, guildID)
	s.mu.Unlock()
}

// User returns the settings for a (guild, user) pair. User settings are not
// cached; they are read far less often than guild settings.
func (s *Store) User(ctx context.Context, guildID, userID string) (*UserSettings, error) {
	raw, err := s.Get(ctx, UserKey(guildID, userID))
	if err != nil {
		return nil, err
	}

	u := &UserSettings{}
	if raw != nil {
		if err := json.Unmarshal(raw, u); err != nil {
			s.log.Warn("Malformed user settings, using defaults",
				zap.String("guild", guildID), zap.String("user", userID), zap.Error(err))
			u = &UserSettings{}
		}
	}
	return u, nil
}

// SaveUser shallow-merges patch onto the user's stored settings.
func (s *Store) SaveUser(ctx context.Context, guildID, userID string, patch interface{}) error {
	_, err := s.Set(ctx, UserKey(guildID, userID), patch, false)
	return err
}

// shallowMerge merges patch's top-level keys onto prev. A null patch value
// removes the key, matching the prune-on-load semantics.
func shallowMerge(prev, patch json.RawMessage) (json.RawMessage, error) {
	base := make(map[string]json.RawMessage)
	if len(prev) > 0 {
		if err := json.Unmarshal(prev, &base); err != nil {
			// Previous blob is not an object; the patch replaces it.
			base = make(map[string]json.RawMessage)
		}
	}

	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		// Non-object patch replaces the blob entirely.
		return patch, nil
	}

	for k, v := range overlay {
		if isJSONNull(v) {
			delete(base, k)
			continue
		}
		base[k] = v
	}

	return json.Marshal(base)
}
