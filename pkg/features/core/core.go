// Package core provides the built-in meta commands: help, the generic
// guild settings editor, and the settings cache refresh. The admin
// commands are prefix-exempt so a broken guild prefix cannot lock a guild
// out of its own configuration.
package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// SettingKind tags what shape of value a guild setting holds.
type SettingKind int

const (
	StringSetting SettingKind = iota
	ListSetting
)

// SettingSpec declares one editable guild setting. The generic editor
// branches on the declared kind, not on the stored value's runtime type.
type SettingSpec struct {
	Key  string
	Kind SettingKind
	Help string
	// Coerce converts the raw string value before storing. Unset means
	// store the string as-is. Only used for string settings.
	Coerce func(string) (interface{}, error)
}

// Feature implements the core meta commands.
type Feature struct {
	log      *logger.Logger
	cfg      *config.Config
	registry *commands.Registry
	settings *settings.Store
	auth     *auth.Checker
	gw       gateway.Gateway

	specs map[string]*SettingSpec
}

// New creates the core feature.
func New(
	log *logger.Logger,
	cfg *config.Config,
	registry *commands.Registry,
	store *settings.Store,
	checker *auth.Checker,
	gw gateway.Gateway,
) *Feature {
	f := &Feature{
		log:      log,
		cfg:      cfg,
		registry: registry,
		settings: store,
		auth:     checker,
		gw:       gw,
		specs:    make(map[string]*SettingSpec),
	}

	boolCoerce := func(v string) (interface{}, error) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("expected true or false: %w", dispatch.ErrBadCommand)
		}
		return b, nil
	}

	for _, spec := range []*SettingSpec{
		{Key: "prefix", Kind: StringSetting, Help: "command prefix for this guild"},
		{Key: "adminGroup", Kind: ListSetting, Help: "role names that count as admins"},
		{Key: "defaultRoles", Kind: ListSetting, Help: "role names granted to new members"},
		{Key: "failMessages", Kind: ListSetting, Help: "replies used when something goes wrong"},
		{Key: "logChannel", Kind: StringSetting, Help: "channel ID receiving audit copies"},
		{Key: "logAll", Kind: StringSetting, Help: "mirror all guild traffic to the log channel", Coerce: boolCoerce},
		{Key: "welcomeMessage", Kind: StringSetting, Help: "greeting sent when a member joins"},
		{Key: "welcomeChannel", Kind: StringSetting, Help: "channel ID for welcome messages"},
	} {
		f.specs[spec.Key] = spec
	}

	return f
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "core" }

// Register adds the meta commands to the registry.
func (f *Feature) Register() error {
	cmds := []*commands.Command{
		{
			Name:         "help",
			Help:         "show everything I can do",
			SortWeight:   1,
			HelpShortcut: true,
			Handler:      f.help,
		},
		{
			Name:         "cfg",
			ArgTemplate:  "<key> [add|remove|show|list|reset|set] [value]",
			Help:         "edit guild settings",
			AdminOnly:    true,
			IgnorePrefix: true,
			SortWeight:   2,
			Handler:      f.cfgCommand,
		},
		{
			Name:         "refresh",
			Help:         "reload this guild's settings from the store",
			AdminOnly:    true,
			IgnorePrefix: true,
			SortWeight:   3,
			Handler:      f.refresh,
		},
	}

	for _, cmd := range cmds {
		if err := f.registry.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// help DMs the paginated command listing.
func (f *Feature) help(ctx context.Context, req *commands.Request) (commands.Response, error) {
	prefix := req.Guild.EffectivePrefix(f.cfg.EffectivePrefix())
	pages := f.registry.HelpPages(prefix)

	for _, page := range pages {
		if err := f.gw.Direct(ctx, req.Msg.UserID, page); err != nil {
			return commands.Response{}, fmt.Errorf("sending help page: %w", err)
		}
	}

	if req.Msg.DM {
		return commands.Response{}, nil
	}
	return commands.Response{Content: "Check your DMs."}, nil
}

// refresh drops the guild's cached settings so the next read reloads them.
func (f *Feature) refresh(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if req.Msg.GuildID == "" {
		return commands.Response{Content: "Nothing to refresh in a DM."}, nil
	}
	f.settings.Refresh(req.Msg.GuildID)
	f.log.Info("Guild settings refreshed", zap.String("guild_id", req.Msg.GuildID))
	return commands.Response{Content: "Settings reloaded."}, nil
}

// cfg is the generic typed settings editor.
func (f *Feature) cfgCommand(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if req.Msg.GuildID == "" {
		return commands.Response{Content: "Guild settings can only be edited inside a guild."}, nil
	}
	if len(req.Args) == 0 {
		return commands.Response{Content: f.keysHelp()}, nil
	}

	key := req.Args[0]
	spec, ok := f.specs[key]
	if !ok {
		return commands.Response{}, fmt.Errorf("setting %q: %w", key, dispatch.ErrBadArgument)
	}

	op, value := "show", ""
	if len(req.Args) > 1 {
		op = strings.ToLower(req.Args[1])
		value = strings.Join(req.Args[2:], " ")
		switch op {
		case "add", "remove", "show", "list", "reset", "set":
		default:
			// Bare value shorthand: "cfg prefix !" means "cfg prefix set !".
			op, value = "set", strings.Join(req.Args[1:], " ")
		}
	}

	switch spec.Kind {
	case ListSetting:
		return f.cfgList(ctx, req, spec, op, value)
	default:
		return f.cfgString(ctx, req, spec, op, value)
	}
}

func (f *Feature) cfgString(ctx context.Context, req *commands.Request, spec *SettingSpec, op, value string) (commands.Response, error) {
	guildID := req.Msg.GuildID

	switch op {
	case "show", "list":
		current := f.currentValue(req.Guild, spec.Key)
		if current == "" {
			return commands.Response{Content: fmt.Sprintf("%s is not set.", spec.Key)}, nil
		}
		return commands.Response{Content: fmt.Sprintf("%s is `%s`.", spec.Key, current)}, nil

	case "reset":
		if _, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{spec.Key: nil}); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("%s reset.", spec.Key)}, nil

	case "set":
		if value == "" {
			return commands.Response{}, fmt.Errorf("%s needs a value: %w", spec.Key, dispatch.ErrBadCommand)
		}
		stored := interface{}(value)
		if spec.Coerce != nil {
			coerced, err := spec.Coerce(value)
			if err != nil {
				return commands.Response{}, err
			}
			stored = coerced
		}
		if _, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{spec.Key: stored}); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("%s is now `%s`.", spec.Key, value)}, nil

	default:
		return commands.Response{}, fmt.Errorf("%s on a plain setting: %w", op, dispatch.ErrBadCommand)
	}
}

func (f *Feature) cfgList(ctx context.Context, req *commands.Request, spec *SettingSpec, op, value string) (commands.Response, error) {
	guildID := req.Msg.GuildID
	current := f.currentList(req.Guild, spec.Key)

	switch op {
	case "show", "list":
		if len(current) == 0 {
			return commands.Response{Content: fmt.Sprintf("%s is empty.", spec.Key)}, nil
		}
		return commands.Response{Content: fmt.Sprintf("%s: %s", spec.Key, strings.Join(current, ", "))}, nil

	case "reset":
		if _, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{spec.Key: nil}); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("%s reset.", spec.Key)}, nil

	case "add":
		if value == "" {
			return commands.Response{}, fmt.Errorf("%s add needs a value: %w", spec.Key, dispatch.ErrBadCommand)
		}
		for _, entry := range current {
			if strings.EqualFold(entry, value) {
				return commands.Response{Content: fmt.Sprintf("%q is already in %s.", value, spec.Key)}, nil
			}
		}
		next := append(append([]string{}, current...), value)
		if _, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{spec.Key: next}); err != nil {
			return commands.Response{}, err
		}

		reply := fmt.Sprintf("Added %q to %s.", value, spec.Key)
		if spec.Key == "adminGroup" || spec.Key == "defaultRoles" {
			if missing, err := f.auth.ValidateAdminRoles(ctx, guildID, []string{value}); err == nil && len(missing) > 0 {
				reply += fmt.Sprintf(" Heads up: no role named %q exists here yet.", value)
			}
		}
		return commands.Response{Content: reply}, nil

	case "remove":
		if value == "" {
			return commands.Response{}, fmt.Errorf("%s remove needs a value: %w", spec.Key, dispatch.ErrBadCommand)
		}
		next := make([]string, 0, len(current))
		for _, entry := range current {
			if !strings.EqualFold(entry, value) {
				next = append(next, entry)
			}
		}
		if len(next) == len(current) {
			return commands.Response{}, fmt.Errorf("%q in %s: %w", value, spec.Key, dispatch.ErrNotFound)
		}
		if _, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{spec.Key: next}); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("Removed %q from %s.", value, spec.Key)}, nil

	default:
		return commands.Response{}, fmt.Errorf("%s on a list setting: %w", op, dispatch.ErrBadCommand)
	}
}

// keysHelp lists the editable settings.
func (f *Feature) keysHelp() string {
	keys := make([]string, 0, len(f.specs))
	for k := range f.specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Editable settings:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "`%s` - %s\n", k, f.specs[k].Help)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f *Feature) currentValue(guild *settings.GuildSettings, key string) string {
	switch key {
	case "prefix":
		return guild.Prefix
	case "logChannel":
		return guild.LogChannel
	case "logAll":
		return strconv.FormatBool(guild.LogAll)
	case "welcomeMessage":
		return guild.WelcomeMessage
	case "welcomeChannel":
		return guild.WelcomeChannel
	}
	return ""
}

func (f *Feature) currentList(guild *settings.GuildSettings, key string) []string {
	switch key {
	case "adminGroup":
		return guild.AdminGroup
	case "defaultRoles":
		return guild.DefaultRoles
	case "failMessages":
		return guild.FailMessages
	}
	return nil
}
