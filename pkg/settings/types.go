// Package settings stores per-guild and per-user JSON settings blobs on top
// of the state KV store, with an in-process per-guild cache.
package settings

import (
	"encoding/json"
	"math/rand"
)

// DefaultFailMessages is the built-in set of generic apology phrases used
// when a guild has not configured its own.
var DefaultFailMessages = []string{
	"Sorry, I didn't understand that.",
	"I'm not sure what you mean.",
	"That didn't work, sorry.",
	"Hmm, I couldn't make sense of that.",
}

// GuildSettings is one JSON object per guild. Unset keys fall back to
// documented defaults; feature-owned free-form keys live in Extra.
type GuildSettings struct {
	Prefix         string   `json:"prefix,omitempty"`
	AdminGroup     []string `json:"adminGroup,omitempty"`
	DefaultRoles   []string `json:"defaultRoles,omitempty"`
	FailMessages   []string `json:"failMessages,omitempty"`
	LogChannel     string   `json:"logChannel,omitempty"`
	LogAll         bool     `json:"logAll,omitempty"`
	WelcomeMessage string   `json:"welcomeMessage,omitempty"`
	WelcomeChannel string   `json:"welcomeChannel,omitempty"`

	// Extra holds feature-owned keys (responses, rss, characters, ...).
	Extra map[string]json.RawMessage `json:"-"`
}

// guildSettingsAlias avoids recursion in the custom JSON methods.
type guildSettingsAlias GuildSettings

var guildKnownKeys = map[string]bool{
	"prefix": true, "adminGroup": true, "defaultRoles": true,
	"failMessages": true, "logChannel": true, "logAll": true,
	"welcomeMessage": true, "welcomeChannel": true,
}

// UnmarshalJSON decodes known fields and collects the rest into Extra.
// JSON null values are treated as unset and pruned.
func (g *GuildSettings) UnmarshalJSON(data []byte) error {
	var alias guildSettingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*g = GuildSettings(alias)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if guildKnownKeys[k] || isJSONNull(v) {
			continue
		}
		if g.Extra == nil {
			g.Extra = make(map[string]json.RawMessage)
		}
		g.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes known fields and Extra as one flat object.
func (g GuildSettings) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(guildSettingsAlias(g), g.Extra)
}

// EffectivePrefix returns the guild prefix, or def when unset.
func (g *GuildSettings) EffectivePrefix(def string) string {
	if g == nil || g.Prefix == "" {
		return def
	}
	return g.Prefix
}

// FailMessage picks a random fail message from the guild's configured set,
// falling back to the built-in defaults.
func (g *GuildSettings) FailMessage() string {
	msgs := DefaultFailMessages
	if g != nil && len(g.FailMessages) > 0 {
		msgs = g.FailMessages
	}
	return msgs[rand.Intn(len(msgs))]
}

// GetExtra decodes a feature-owned key into out. Returns false when the key
// is absent or holds malformed JSON.
func (g *GuildSettings) GetExtra(key string, out interface{}) bool {
	if g == nil || g.Extra == nil {
		return false
	}
	raw, ok := g.Extra[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// UserSettings is one JSON object per (guild, user) pair.
type UserSettings struct {
	Format           string `json:"format,omitempty"`
	CurrentCharacter string `json:"currentCharacter,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type userSettingsAlias UserSettings

var userKnownKeys = map[string]bool{
	"format": true, "currentCharacter": true,
}

// UnmarshalJSON decodes known fields and collects the rest into Extra.
func (u *UserSettings) UnmarshalJSON(data []byte) error {
	var alias userSettingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*u = UserSettings(alias)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if userKnownKeys[k] || isJSONNull(v) {
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]json.RawMessage)
		}
		u.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes known fields and Extra as one flat object.
func (u UserSettings) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(userSettingsAlias(u), u.Extra)
}

// marshalWithExtra flattens a typed struct and its free-form keys into one
// JSON object. Typed fields win on key collisions.
func marshalWithExtra(typed interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; exists {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
