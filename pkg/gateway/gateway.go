// Package gateway defines the guild capability surface exposed by connected
// chat channels. Consumers query membership, roles, and permissions through
// this interface without depending on a concrete platform SDK.
package gateway

import (
	"context"
	"strings"
)

// Role is a guild role as reported by the connected channel.
type Role struct {
	ID   string
	Name string
	// Permissions is the platform permission bitfield.
	Permissions int64
	// Managed roles belong to integrations and cannot be granted.
	Managed bool
}

// Member is a guild member with resolved role membership.
type Member struct {
	UserID   string
	Username string
	Nick     string
	RoleIDs  []string
	// Owner is true when the member owns the guild.
	Owner bool
}

// administrator permission bit shared by the major chat platforms' bitfields.
const PermissionAdministrator int64 = 0x8

// HasRole reports whether the member holds the given role ID.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// DisplayName returns the member's nickname, falling back to the username.
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Username
}

// Gateway is the guild query and action surface. The Discord channel
// implements it; tests substitute fakes.
type Gateway interface {
	// BotID returns the connected bot's own user ID, empty before connect.
	BotID() string

	// Member resolves a guild member.
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	// GuildRoles lists the guild's roles.
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)

	// IsOwner reports whether the user owns the guild.
	IsOwner(ctx context.Context, guildID, userID string) (bool, error)

	// GrantRole adds a role to a guild member.
	GrantRole(ctx context.Context, guildID, userID, roleID string) error

	// Direct sends a direct message to a user.
	Direct(ctx context.Context, userID, content string) error

	// SetPresence updates the bot's presence text.
	SetPresence(ctx context.Context, status string) error
}

// RoleByName finds a role by case-insensitive name match.
func RoleByName(roles []Role, name string) (Role, bool) {
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Role{}, false
}
