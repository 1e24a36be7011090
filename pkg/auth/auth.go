// Package auth implements the admin check gating privileged commands.
package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// Checker resolves whether a guild member may run admin-only commands.
type Checker struct {
	gw       gateway.Gateway
	settings *settings.Store
	log      *logger.Logger
}

// NewChecker creates an admin checker backed by the gateway and the guild
// settings store.
func NewChecker(gw gateway.Gateway, store *settings.Store, log *logger.Logger) *Checker {
	return &Checker{
		gw:       gw,
		settings: store,
		log:      log,
	}
}

// IsAdmin reports whether the user counts as an admin in the guild.
//
// A user is an admin when any of the following holds, checked in order:
// the guild's configured admin role names include one of the member's
// roles, the user owns the guild, or one of the member's roles carries the
// platform administrator permission. An unset admin role config is not an
// error; the check falls through to ownership and permissions.
func (c *Checker) IsAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	if guildID == "" {
		// Direct messages have no guild and no admins.
		return false, nil
	}

	member, err := c.gw.Member(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("resolving member %s in guild %s: %w", userID, guildID, err)
	}

	roles, err := c.gw.GuildRoles(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("listing roles for guild %s: %w", guildID, err)
	}

	guild, err := c.settings.Guild(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("loading settings for guild %s: %w", guildID, err)
	}
	if names := guild.AdminGroup; len(names) > 0 {
		for _, name := range names {
			role, ok := gateway.RoleByName(roles, name)
			if !ok {
				c.log.Debug("Configured admin role not found in guild",
					zap.String("guild_id", guildID),
					zap.String("role", name))
				continue
			}
			if member.HasRole(role.ID) {
				return true, nil
			}
		}
	}

	if member.Owner {
		return true, nil
	}
	owner, err := c.gw.IsOwner(ctx, guildID, userID)
	if err == nil && owner {
		return true, nil
	}

	for _, role := range roles {
		if !member.HasRole(role.ID) {
			continue
		}
		if role.Permissions&gateway.PermissionAdministrator != 0 {
			return true, nil
		}
	}

	return false, nil
}

// ValidateAdminRoles checks that each configured admin role name exists in
// the guild, returning the names that do not resolve. Used by the settings
// editor to warn on typos.
func (c *Checker) ValidateAdminRoles(ctx context.Context, guildID string, names []string) ([]string, error) {
	roles, err := c.gw.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("listing roles for guild %s: %w", guildID, err)
	}

	var missing []string
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if _, ok := gateway.RoleByName(roles, name); !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
