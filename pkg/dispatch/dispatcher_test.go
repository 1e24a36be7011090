package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
	"tavernbot/pkg/state"
)

type captureBus struct {
	bus.Bus

	mu   sync.Mutex
	sent []*bus.Message
}

func (b *captureBus) SendOutbound(msg *bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

func (b *captureBus) outbound() []*bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*bus.Message, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *captureBus) last() *bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil
	}
	return b.sent[len(b.sent)-1]
}

type stubGateway struct {
	gateway.Gateway

	botID   string
	ownerID string
	admins  map[string]bool
}

func (g *stubGateway) BotID() string { return g.botID }

func (g *stubGateway) Member(ctx context.Context, guildID, userID string) (*gateway.Member, error) {
	m := &gateway.Member{UserID: userID}
	if g.admins[userID] {
		m.RoleIDs = []string{"admin-role"}
	}
	return m, nil
}

func (g *stubGateway) GuildRoles(ctx context.Context, guildID string) ([]gateway.Role, error) {
	return []gateway.Role{
		{ID: "admin-role", Name: "Admins", Permissions: gateway.PermissionAdministrator},
	}, nil
}

func (g *stubGateway) IsOwner(ctx context.Context, guildID, userID string) (bool, error) {
	return userID == g.ownerID, nil
}

type fixture struct {
	d        *Dispatcher
	bus      *captureBus
	gw       *stubGateway
	registry *commands.Registry
	settings *settings.Store
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	kv, err := state.NewFileStore(log, &state.FileStoreConfig{
		FilePath: filepath.Join(t.TempDir(), "state.json"),
	})
	if err != nil {
		t.Fatalf("Failed to create KV store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	cfg := config.DefaultConfig()
	cfg.Bot.ReplyDelay = 0

	store := settings.NewStore(log, kv)
	gw := &stubGateway{botID: "bot-1", admins: map[string]bool{"admin-user": true}}
	checker := auth.NewChecker(gw, store, log)
	registry := commands.NewRegistry(cfg.EffectivePrefix())
	cb := &captureBus{}

	return &fixture{
		d:        NewDispatcher(log, cfg, registry, store, checker, cb, gw),
		bus:      cb,
		gw:       gw,
		registry: registry,
		settings: store,
		cfg:      cfg,
	}
}

func inbound(guildID, userID, content string) *bus.Message {
	return &bus.Message{
		ID:        "m1",
		ChannelID: "discord",
		ChatID:    "chat-1",
		GuildID:   guildID,
		UserID:    userID,
		Username:  "tester",
		Event:     bus.EventMessage,
		Content:   content,
	}
}

func TestCommandDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotArgs []string
	err := f.registry.Register(&commands.Command{
		Name: "roll",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			gotArgs = req.Args
			return commands.Response{Content: "rolled " + req.Args[0]}, nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := f.d.Handle(ctx, inbound("g1", "u1", "?roll 1d20")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	out := f.bus.last()
	if out == nil || out.Content != "rolled 1d20" {
		t.Fatalf("outbound = %+v", out)
	}
	if out.ChatID != "chat-1" || out.ReplyTo != "m1" {
		t.Errorf("reply addressing wrong: %+v", out)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "1d20" {
		t.Errorf("args = %v", gotArgs)
	}

	// Word boundary: no match, no reply.
	f.d.Handle(ctx, inbound("g1", "u1", "?rolling dice"))
	if len(f.bus.outbound()) != 1 {
		t.Error("?rolling must not dispatch ?roll")
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	f := newFixture(t)

	invoked := false
	f.registry.Register(&commands.Command{
		Name: "ping",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			invoked = true
			return commands.Response{Content: "pong"}, nil
		},
	})

	f.d.Handle(context.Background(), inbound("g1", "bot-1", "?ping"))
	if invoked || len(f.bus.outbound()) != 0 {
		t.Error("messages authored by the bot must be ignored")
	}
}

func TestGuildPrefixOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(&commands.Command{
		Name: "roll",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			return commands.Response{Content: "ok"}, nil
		},
	})

	if _, err := f.settings.SaveGuild(ctx, "g1", map[string]interface{}{"prefix": "!"}); err != nil {
		t.Fatalf("SaveGuild error: %v", err)
	}

	f.d.Handle(ctx, inbound("g1", "u1", "?roll 1d6"))
	if len(f.bus.outbound()) != 0 {
		t.Error("default prefix must not dispatch once the guild overrides it")
	}

	f.d.Handle(ctx, inbound("g1", "u1", "!roll 1d6"))
	if len(f.bus.outbound()) != 1 {
		t.Error("guild prefix should dispatch")
	}
}

func TestAdminGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invoked := false
	f.registry.Register(&commands.Command{
		Name:      "cfg",
		AdminOnly: true,
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			invoked = true
			return commands.Response{Content: "changed"}, nil
		},
	})

	f.d.Handle(ctx, inbound("g1", "pleb", "?cfg prefix !"))
	if invoked {
		t.Fatal("non-admin must not reach an admin-only handler")
	}
	out := f.bus.last()
	if out == nil || out.Content == "changed" {
		t.Fatalf("expected fallback reply, got %+v", out)
	}

	f.d.Handle(ctx, inbound("g1", "admin-user", "?cfg prefix !"))
	if !invoked {
		t.Error("admin should reach the handler")
	}
}

func TestHandlerFailureContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(&commands.Command{
		Name: "boom",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			return commands.Response{}, errors.New("store exploded")
		},
	})
	f.registry.Register(&commands.Command{
		Name: "what",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			return commands.Response{}, fmt.Errorf("key %q: %w", "nope", ErrBadArgument)
		},
	})
	f.registry.Register(&commands.Command{
		Name: "panic",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			panic("unreachable feature state")
		},
	})

	f.d.Handle(ctx, inbound("g1", "u1", "?boom"))
	out := f.bus.last()
	if out == nil || strings.Contains(out.Content, "store exploded") {
		t.Fatalf("raw error text must not leak, got %+v", out)
	}

	f.d.Handle(ctx, inbound("g1", "u1", "?what"))
	if got := f.bus.last().Content; got != "I'm not sure what you mean by that." {
		t.Errorf("bad-argument reply = %q", got)
	}

	// A panicking handler is contained like an error.
	f.d.Handle(ctx, inbound("g1", "u1", "?panic"))
	if out := f.bus.last(); out == nil || strings.Contains(out.Content, "unreachable") {
		t.Errorf("panic must convert to the fallback reply, got %+v", out)
	}
}

func TestPhraseTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(&commands.Command{
		Name: "hello",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			return commands.Response{Content: "command won"}, nil
		},
	})
	f.d.AddPhrase(&Phrase{
		Name:      "greeting",
		Substring: "hello there",
		Handler: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (string, error) {
			return "general kenobi", nil
		},
	})

	f.d.Handle(ctx, inbound("g1", "u1", "well hello there friend"))
	if got := f.bus.last().Content; got != "general kenobi" {
		t.Fatalf("phrase reply = %q", got)
	}

	// Commands outrank phrases.
	f.d.Handle(ctx, inbound("g1", "u1", "?hello there"))
	if got := f.bus.last().Content; got != "command won" {
		t.Errorf("command should win over phrase, got %q", got)
	}
}

func TestPassiveChainOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var order []string
	f.d.AddPassive(&Passive{
		Name:     "second",
		Priority: 20,
		Fn: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
			order = append(order, "second")
			return true, nil
		},
	})
	f.d.AddPassive(&Passive{
		Name:     "first",
		Priority: 10,
		Fn: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
			order = append(order, "first")
			return false, nil
		},
	})
	f.d.AddPassive(&Passive{
		Name:     "never",
		Priority: 30,
		Fn: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
			order = append(order, "never")
			return false, nil
		},
	})

	f.d.Handle(ctx, inbound("g1", "u1", "just chatting"))
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("passive order = %v", order)
	}
}

func TestNonMessageEventsGoToPassives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen bus.Event
	f.d.AddPassive(&Passive{
		Name: "welcome",
		Fn: func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
			seen = msg.Event
			return true, nil
		},
	})

	msg := inbound("g1", "u1", "")
	msg.Event = bus.EventMemberJoined
	f.d.Handle(ctx, msg)
	if seen != bus.EventMemberJoined {
		t.Errorf("member-joined should reach passives, got %q", seen)
	}
}

func TestLogChannelMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.settings.SaveGuild(ctx, "g1", map[string]interface{}{
		"logChannel": "audit-chan",
		"logAll":     true,
	}); err != nil {
		t.Fatalf("SaveGuild error: %v", err)
	}

	f.d.Handle(ctx, inbound("g1", "u1", "idle chatter"))

	var mirrored *bus.Message
	for _, m := range f.bus.outbound() {
		if m.ChatID == "audit-chan" {
			mirrored = m
		}
	}
	if mirrored == nil {
		t.Fatal("log-all guilds should mirror traffic to the log channel")
	}
	if !strings.Contains(mirrored.Content, "idle chatter") || !strings.Contains(mirrored.Content, "tester") {
		t.Errorf("mirror content = %q", mirrored.Content)
	}

	// Traffic already in the log channel is not mirrored again.
	msg := inbound("g1", "u1", "more chatter")
	msg.ChatID = "audit-chan"
	before := len(f.bus.outbound())
	f.d.Handle(ctx, msg)
	if len(f.bus.outbound()) != before {
		t.Error("log channel traffic must not be re-mirrored")
	}
}

func TestCurlyQuoteNormalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got []string
	f.registry.Register(&commands.Command{
		Name: "say",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			got = req.Args
			return commands.Response{Content: "ok"}, nil
		},
	})

	f.d.Handle(ctx, inbound("g1", "u1", "?say “hello world”"))
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("args = %v, curly quotes should tokenize as one quoted token", got)
	}
}

func TestDevModeDecoratesGuildPrefix(t *testing.T) {
	f := newFixture(t)
	f.cfg.Bot.DevMode = true
	ctx := context.Background()

	invoked := false
	f.registry.Register(&commands.Command{
		Name: "roll",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			invoked = true
			return commands.Response{Content: "ok"}, nil
		},
	})

	if _, err := f.settings.SaveGuild(ctx, "g1", map[string]interface{}{"prefix": "!"}); err != nil {
		t.Fatalf("SaveGuild error: %v", err)
	}

	f.d.Handle(ctx, inbound("g1", "u1", "!roll 1d6"))
	if invoked {
		t.Error("dev instance must not dispatch on the undecorated guild prefix")
	}

	f.d.Handle(ctx, inbound("g1", "u1", "dev!!roll 1d6"))
	if !invoked {
		t.Error("marker-decorated guild prefix should dispatch")
	}
}

func TestReplyDelayDoesNotBlockDispatch(t *testing.T) {
	f := newFixture(t)
	f.cfg.Bot.ReplyDelay = 50
	ctx := context.Background()

	f.registry.Register(&commands.Command{
		Name: "roll",
		Handler: func(ctx context.Context, req *commands.Request) (commands.Response, error) {
			return commands.Response{Content: "ok"}, nil
		},
	})

	start := time.Now()
	if err := f.d.Handle(ctx, inbound("g1", "u1", "?roll 1d6")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("Handle blocked %v on the reply delay", elapsed)
	}

	deadline := time.After(2 * time.Second)
	for len(f.bus.outbound()) == 0 {
		select {
		case <-deadline:
			t.Fatal("delayed reply never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if out := f.bus.last(); out.Content != "ok" {
		t.Errorf("outbound = %+v", out)
	}
}
