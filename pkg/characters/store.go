// Package characters implements the character roster: a per-guild list of
// player characters built by the creation walkthrough and managed through
// the character command family.
package characters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// rosterSuffix is the settings key suffix holding a guild's character list.
const rosterSuffix = "_characters"

// nameSimilarityThreshold is the levenshtein similarity above which two
// character names count as the same name.
const nameSimilarityThreshold = 0.84

// Character is one player character in a guild's roster.
type Character struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Owner       string            `json:"owner"`
	Template    string            `json:"template,omitempty"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image,omitempty"`
	Stats       map[string]string `json:"stats,omitempty"`
	Retired     bool              `json:"retired,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// NameConflictError reports a fuzzy-duplicate character name. The creation
// walkthrough turns it into a recoverable rename prompt.
type NameConflictError struct {
	// Name is the rejected name.
	Name string
	// Existing is the roster name it collided with.
	Existing string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("character name %q is too close to existing %q", e.Name, e.Existing)
}

// NotFoundError reports a lookup for a character that is not in the roster.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no character named %q", e.Name)
}

// Store persists guild character rosters in the settings key-value space.
type Store struct {
	log      *logger.Logger
	settings *settings.Store
}

// NewStore creates a character store on top of the settings store.
func NewStore(log *logger.Logger, s *settings.Store) *Store {
	return &Store{log: log, settings: s}
}

type roster struct {
	Characters []*Character `json:"characters"`
}

func (s *Store) load(ctx context.Context, guildID string) (*roster, error) {
	raw, err := s.settings.Get(ctx, settings.GuildKey(guildID, rosterSuffix))
	if err != nil {
		return nil, fmt.Errorf("loading roster for guild %s: %w", guildID, err)
	}

	r := &roster{}
	if raw != nil {
		if err := json.Unmarshal(raw, r); err != nil {
			// A corrupt roster blob is treated as empty rather than
			// blocking every character operation in the guild.
			s.log.Warn("Malformed character roster, starting empty",
				zap.String("guild_id", guildID),
				zap.Error(err))
			r = &roster{}
		}
	}
	return r, nil
}

func (s *Store) save(ctx context.Context, guildID string, r *roster) error {
	if _, err := s.settings.Set(ctx, settings.GuildKey(guildID, rosterSuffix), r, true); err != nil {
		return fmt.Errorf("saving roster for guild %s: %w", guildID, err)
	}
	return nil
}

// List returns the guild's characters. Retired characters are included when
// includeRetired is set.
func (s *Store) List(ctx context.Context, guildID string, includeRetired bool) ([]*Character, error) {
	r, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if includeRetired {
		return r.Characters, nil
	}
	var active []*Character
	for _, c := range r.Characters {
		if !c.Retired {
			active = append(active, c)
		}
	}
	return active, nil
}

// Get finds a character by exact case-insensitive name.
func (s *Store) Get(ctx context.Context, guildID, name string) (*Character, error) {
	r, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if c := findByName(r, name); c != nil {
		return c, nil
	}
	return nil, &NotFoundError{Name: name}
}

// Create appends a new character to the roster after the fuzzy-distinct
// name check against non-retired characters.
func (s *Store) Create(ctx context.Context, guildID string, c *Character) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("character name cannot be empty")
	}

	r, err := s.load(ctx, guildID)
	if err != nil {
		return err
	}
	if existing := findSimilar(r, c.Name, ""); existing != nil {
		return &NameConflictError{Name: c.Name, Existing: existing.Name}
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.Characters = append(r.Characters, c)

	if err := s.save(ctx, guildID, r); err != nil {
		return err
	}
	s.log.Info("Character created",
		zap.String("guild_id", guildID),
		zap.String("name", c.Name),
		zap.String("owner", c.Owner))
	return nil
}

// Rename changes a character's name, applying the same fuzzy-distinct check
// as creation.
func (s *Store) Rename(ctx context.Context, guildID, name, newName string) (*Character, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("character name cannot be empty")
	}

	r, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	c := findByName(r, name)
	if c == nil {
		return nil, &NotFoundError{Name: name}
	}
	if existing := findSimilar(r, newName, c.ID); existing != nil {
		return nil, &NameConflictError{Name: newName, Existing: existing.Name}
	}

	c.Name = newName
	return c, s.save(ctx, guildID, r)
}

// SetStat writes one stat on a character. An empty value deletes the stat.
func (s *Store) SetStat(ctx context.Context, guildID, name, stat, value string) (*Character, error) {
	r, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	c := findByName(r, name)
	if c == nil {
		return nil, &NotFoundError{Name: name}
	}

	if value == "" {
		delete(c.Stats, stat)
	} else {
		if c.Stats == nil {
			c.Stats = make(map[string]string)
		}
		c.Stats[stat] = value
	}
	return c, s.save(ctx, guildID, r)
}

// Retire marks a character retired, freeing its name for reuse.
func (s *Store) Retire(ctx context.Context, guildID, name string) (*Character, error) {
	r, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	c := findByName(r, name)
	if c == nil {
		return nil, &NotFoundError{Name: name}
	}

	c.Retired = true
	return c, s.save(ctx, guildID, r)
}

// Delete removes a character from the roster entirely.
func (s *Store) Delete(ctx context.Context, guildID, name string) error {
	r, err := s.load(ctx, guildID)
	if err != nil {
		return err
	}

	for i, c := range r.Characters {
		if strings.EqualFold(c.Name, name) {
			r.Characters = append(r.Characters[:i], r.Characters[i+1:]...)
			return s.save(ctx, guildID, r)
		}
	}
	return &NotFoundError{Name: name}
}

// findByName matches by exact case-insensitive name.
func findByName(r *roster, name string) *Character {
	for _, c := range r.Characters {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// findSimilar returns a non-retired character whose name is fuzzy-equal to
// name, skipping the character with excludeID.
func findSimilar(r *roster, name, excludeID string) *Character {
	lower := strings.ToLower(name)
	for _, c := range r.Characters {
		if c.Retired || c.ID == excludeID {
			continue
		}
		if levenshtein.Similarity(strings.ToLower(c.Name), lower, nil) >= nameSimilarityThreshold {
			return c
		}
	}
	return nil
}
