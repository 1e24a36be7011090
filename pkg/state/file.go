package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"tavernbot/pkg/logger"
)

// FileStore is a file-based key-value store with atomic saves.
type FileStore struct {
	log      *logger.Logger
	filePath string
	data     map[string]json.RawMessage
	mu       sync.RWMutex

	// Auto-save configuration
	autoSave      bool
	saveInterval  time.Duration
	saveTicker    *time.Ticker
	stopSave      chan struct{}
	pendingWrites bool
}

// FileStoreConfig configures the file store.
type FileStoreConfig struct {
	FilePath     string        // Path to state file
	AutoSave     bool          // Enable auto-save
	SaveInterval time.Duration // Auto-save interval (default: 5s)
}

// NewFileStore creates a new file-based state store.
func NewFileStore(log *logger.Logger, cfg *FileStoreConfig) (*FileStore, error) {
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = 5 * time.Second
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &FileStore{
		log:          log,
		filePath:     cfg.FilePath,
		data:         make(map[string]json.RawMessage),
		autoSave:     cfg.AutoSave,
		saveInterval: cfg.SaveInterval,
		stopSave:     make(chan struct{}),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	if s.autoSave {
		s.startAutoSave()
	}

	return s, nil
}

// Get retrieves the raw JSON value stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	return value, exists, nil
}

// Set marshals value to JSON and stores it under key.
func (s *FileStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}

	s.mu.Lock()
	s.data[key] = data
	s.pendingWrites = true
	s.mu.Unlock()

	if !s.autoSave {
		return s.save()
	}
	return nil
}

// Delete removes a key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.pendingWrites = true
	s.mu.Unlock()

	if !s.autoSave {
		return s.save()
	}
	return nil
}

// Keys returns all keys in the store.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// load reads state from disk. Entries that are not valid JSON are dropped
// rather than failing the whole store, so one corrupt record cannot take
// the bot down.
func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	loaded := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("State file is corrupt, starting empty",
			zap.String("file", s.filePath), zap.Error(err))
		return nil
	}

	for k, v := range loaded {
		if !json.Valid(v) {
			s.log.Warn("Dropping corrupt state entry", zap.String("key", k))
			continue
		}
		s.data[k] = v
	}

	s.log.Info("Loaded state", zap.String("file", s.filePath), zap.Int("keys", len(s.data)))
	return nil
}

// save persists state to disk via a temp file and atomic rename.
func (s *FileStore) save() error {
	s.mu.RLock()
	if !s.pendingWrites && s.autoSave {
		s.mu.RUnlock()
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	keyCount := len(s.data)
	s.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("renaming temp state file: %w", err)
	}

	s.mu.Lock()
	s.pendingWrites = false
	s.mu.Unlock()

	s.log.Debug("Saved state", zap.String("file", s.filePath), zap.Int("keys", keyCount))
	return nil
}

// startAutoSave starts the auto-save goroutine.
func (s *FileStore) startAutoSave() {
	s.saveTicker = time.NewTicker(s.saveInterval)

	go func() {
		for {
			select {
			case <-s.saveTicker.C:
				if err := s.save(); err != nil {
					s.log.Error("Auto-save failed", zap.Error(err))
				}
			case <-s.stopSave:
				return
			}
		}
	}()
}

// Close stops auto-save and performs a final save.
func (s *FileStore) Close() error {
	if s.autoSave && s.saveTicker != nil {
		s.saveTicker.Stop()
		close(s.stopSave)
	}

	return s.save()
}
