package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
	"tavernbot/pkg/state"
)

type fakeGateway struct {
	mu    sync.Mutex
	roles []gateway.Role
	dms   map[string][]string
}

func (g *fakeGateway) BotID() string { return "bot-1" }

func (g *fakeGateway) Member(ctx context.Context, guildID, userID string) (*gateway.Member, error) {
	return &gateway.Member{UserID: userID, Username: userID}, nil
}

func (g *fakeGateway) GuildRoles(ctx context.Context, guildID string) ([]gateway.Role, error) {
	return g.roles, nil
}

func (g *fakeGateway) IsOwner(ctx context.Context, guildID, userID string) (bool, error) {
	return false, nil
}

func (g *fakeGateway) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return nil
}

func (g *fakeGateway) Direct(ctx context.Context, userID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dms == nil {
		g.dms = make(map[string][]string)
	}
	g.dms[userID] = append(g.dms[userID], content)
	return nil
}

func (g *fakeGateway) SetPresence(ctx context.Context, status string) error { return nil }

type fixture struct {
	feature  *Feature
	registry *commands.Registry
	settings *settings.Store
	gw       *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	kv, err := state.NewFileStore(log, &state.FileStoreConfig{
		FilePath: filepath.Join(t.TempDir(), "state.json"),
	})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	store := settings.NewStore(log, kv)
	gw := &fakeGateway{roles: []gateway.Role{{ID: "r1", Name: "Game Master"}}}
	checker := auth.NewChecker(gw, store, log)
	cfg := config.DefaultConfig()
	registry := commands.NewRegistry(cfg.EffectivePrefix())

	f := New(log, cfg, registry, store, checker, gw)
	if err := f.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{feature: f, registry: registry, settings: store, gw: gw}
}

func (fx *fixture) request(t *testing.T, guildID string, args ...string) *commands.Request {
	t.Helper()
	guild := &settings.GuildSettings{}
	if guildID != "" {
		g, err := fx.settings.Guild(context.Background(), guildID)
		if err != nil {
			t.Fatalf("guild settings: %v", err)
		}
		guild = g
	}
	return &commands.Request{
		Msg: &bus.Message{
			Event:   bus.EventMessage,
			ChatID:  "chat-1",
			GuildID: guildID,
			UserID:  "u1",
			DM:      guildID == "",
		},
		Guild: guild,
		Args:  args,
	}
}

func TestCfgSetPrefixChangesResolution(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.registry.Register(&commands.Command{
		Name:    "roll",
		Handler: func(context.Context, *commands.Request) (commands.Response, error) { return commands.Response{}, nil },
	}); err != nil {
		t.Fatalf("register roll: %v", err)
	}

	resp, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "prefix", "!"))
	if err != nil {
		t.Fatalf("cfg prefix: %v", err)
	}
	if !strings.Contains(resp.Content, "`!`") {
		t.Errorf("unexpected reply: %q", resp.Content)
	}

	guild, err := fx.settings.Guild(ctx, "g1")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	def := config.DefaultConfig().EffectivePrefix()
	if m := fx.registry.Resolve("!roll 1d20", guild.EffectivePrefix(def)); m == nil {
		t.Error("new prefix not recognized")
	}
	if m := fx.registry.Resolve(def+"roll 1d20", guild.EffectivePrefix(def)); m != nil {
		t.Error("old prefix still recognized")
	}
}

func TestCfgShowAndReset(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logChannel", "show"))
	if err != nil {
		t.Fatalf("show unset: %v", err)
	}
	if !strings.Contains(resp.Content, "not set") {
		t.Errorf("expected not-set notice, got %q", resp.Content)
	}

	if _, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logChannel", "set", "c-log")); err != nil {
		t.Fatalf("set: %v", err)
	}
	resp, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logChannel", "show"))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(resp.Content, "c-log") {
		t.Errorf("show missing value: %q", resp.Content)
	}

	if _, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logChannel", "reset")); err != nil {
		t.Fatalf("reset: %v", err)
	}
	guild, err := fx.settings.Guild(ctx, "g1")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	if guild.LogChannel != "" {
		t.Errorf("reset left value %q", guild.LogChannel)
	}
}

func TestCfgListAddRemove(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "add", "Game Master"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if strings.Contains(resp.Content, "Heads up") {
		t.Errorf("existing role flagged as missing: %q", resp.Content)
	}

	resp, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "add", "Phantom Role"))
	if err != nil {
		t.Fatalf("add missing: %v", err)
	}
	if !strings.Contains(resp.Content, "Heads up") {
		t.Errorf("missing role not flagged: %q", resp.Content)
	}

	// Duplicate is case-insensitive.
	resp, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "add", "game master"))
	if err != nil {
		t.Fatalf("dup add: %v", err)
	}
	if !strings.Contains(resp.Content, "already") {
		t.Errorf("duplicate not rejected: %q", resp.Content)
	}

	resp, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "show"))
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(resp.Content, "Game Master") || !strings.Contains(resp.Content, "Phantom Role") {
		t.Errorf("list incomplete: %q", resp.Content)
	}

	if _, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "remove", "phantom role")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "remove", "Phantom Role"))
	if !errors.Is(err, dispatch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCfgBadInputs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "nonsense", "set", "x"))
	if !errors.Is(err, dispatch.ErrBadArgument) {
		t.Errorf("unknown key: expected ErrBadArgument, got %v", err)
	}

	_, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "adminGroup", "set", "x"))
	if !errors.Is(err, dispatch.ErrBadCommand) {
		t.Errorf("set on list: expected ErrBadCommand, got %v", err)
	}

	_, err = fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logAll", "set", "maybe"))
	if !errors.Is(err, dispatch.ErrBadCommand) {
		t.Errorf("bad bool: expected ErrBadCommand, got %v", err)
	}

	resp, err := fx.feature.cfgCommand(ctx, fx.request(t, "g1", "logAll", "set", "true"))
	if err != nil {
		t.Fatalf("good bool: %v", err)
	}
	if !strings.Contains(resp.Content, "true") {
		t.Errorf("unexpected reply: %q", resp.Content)
	}
}

func TestCfgOutsideGuild(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.feature.cfgCommand(context.Background(), fx.request(t, "", "prefix", "!"))
	if err != nil {
		t.Fatalf("cfg in DM: %v", err)
	}
	if !strings.Contains(resp.Content, "guild") {
		t.Errorf("expected guild-only notice, got %q", resp.Content)
	}
}

func TestCfgNoArgsListsKeys(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.feature.cfgCommand(context.Background(), fx.request(t, "g1"))
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	for _, key := range []string{"prefix", "adminGroup", "welcomeMessage"} {
		if !strings.Contains(resp.Content, key) {
			t.Errorf("keys listing missing %q", key)
		}
	}
}

func TestHelpGoesToDMs(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.feature.help(context.Background(), fx.request(t, "g1"))
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	if resp.Content != "Check your DMs." {
		t.Errorf("unexpected guild reply: %q", resp.Content)
	}
	if len(fx.gw.dms["u1"]) == 0 {
		t.Fatal("no help pages sent")
	}
	if !strings.Contains(fx.gw.dms["u1"][0], "help") {
		t.Errorf("help listing missing help entry: %q", fx.gw.dms["u1"][0])
	}

	// Invoked from a DM there is nothing extra to say.
	resp, err = fx.feature.help(context.Background(), fx.request(t, ""))
	if err != nil {
		t.Fatalf("help in DM: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("expected empty reply in DM, got %q", resp.Content)
	}
}

func TestRefresh(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.feature.refresh(context.Background(), fx.request(t, "g1"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(resp.Content, "reloaded") {
		t.Errorf("unexpected reply: %q", resp.Content)
	}
}
