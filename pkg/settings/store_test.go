package settings

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"tavernbot/pkg/logger"
	"tavernbot/pkg/state"
)

func testStore(t *testing.T) *Store {
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

	return NewStore(log, kv)
}

func TestKeyDerivation(t *testing.T) {
	if got := GuildKey("g1", ""); got != "g1_settings" {
		t.Errorf("GuildKey = %q", got)
	}
	if got := GuildKey("g1", "_characters"); got != "g1_characters" {
		t.Errorf("GuildKey with suffix = %q", got)
	}
	if got := UserKey("g1", "u1"); got != "g1__u1" {
		t.Errorf("UserKey = %q", got)
	}
}

func TestSetMergesShallow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "k", map[string]interface{}{"b": 2}, false); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if _, err := s.Set(ctx, "k", map[string]interface{}{"a": 1}, false); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	raw, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("expected merged {a:1,b:2}, got %v", got)
	}
}

func TestSetOverwriteNilDeletes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", map[string]interface{}{"a": 1}, false)
	if _, err := s.Set(ctx, "k", nil, true); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	raw, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil after delete, got %s", raw)
	}
}

func TestNullPatchValuePrunesKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", map[string]interface{}{"a": 1, "b": 2}, false)
	s.Set(ctx, "k", map[string]interface{}{"a": nil}, false)

	raw, _ := s.Get(ctx, "k")
	var got map[string]int
	json.Unmarshal(raw, &got)
	if _, ok := got["a"]; ok {
		t.Error("null patch value should prune the key")
	}
	if got["b"] != 2 {
		t.Errorf("unrelated key lost: %v", got)
	}
}

func TestGuildCacheAndRefresh(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatalf("Guild error: %v", err)
	}
	if g.Prefix != "" {
		t.Errorf("expected empty prefix for fresh guild, got %q", g.Prefix)
	}
	if g.EffectivePrefix("?") != "?" {
		t.Errorf("expected fallback prefix")
	}

	// Save replaces the cache entry.
	g2, err := s.SaveGuild(ctx, "g1", map[string]interface{}{"prefix": "!"})
	if err != nil {
		t.Fatalf("SaveGuild error: %v", err)
	}
	if g2.Prefix != "!" {
		t.Errorf("expected prefix '!', got %q", g2.Prefix)
	}

	g3, _ := s.Guild(ctx, "g1")
	if g3.Prefix != "!" {
		t.Errorf("cache should hold the saved value, got %q", g3.Prefix)
	}

	// Refresh drops the cache; the value reloads from the store.
	s.Refresh("g1")
	g4, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatalf("Guild after refresh: %v", err)
	}
	if g4.Prefix != "!" {
		t.Errorf("expected persisted prefix after refresh, got %q", g4.Prefix)
	}
}

func TestGuildSettingsExtraRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	patch := map[string]interface{}{
		"prefix":    "!",
		"responses": map[string]string{"hello": "hi there"},
	}
	if _, err := s.SaveGuild(ctx, "g1", patch); err != nil {
		t.Fatalf("SaveGuild error: %v", err)
	}

	s.Refresh("g1")
	g, err := s.Guild(ctx, "g1")
	if err != nil {
		t.Fatalf("Guild error: %v", err)
	}

	var responses map[string]string
	if !g.GetExtra("responses", &responses) {
		t.Fatal("expected responses extra key")
	}
	if responses["hello"] != "hi there" {
		t.Errorf("expected responses to round-trip, got %v", responses)
	}
}

func TestUserSettings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveUser(ctx, "g1", "u1", map[string]interface{}{"currentCharacter": "c-1"}); err != nil {
		t.Fatalf("SaveUser error: %v", err)
	}

	u, err := s.User(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("User error: %v", err)
	}
	if u.CurrentCharacter != "c-1" {
		t.Errorf("expected current character c-1, got %q", u.CurrentCharacter)
	}
}

func TestFailMessageDefaults(t *testing.T) {
	g := &GuildSettings{}
	msg := g.FailMessage()
	found := false
	for _, m := range DefaultFailMessages {
		if m == msg {
			found = true
		}
	}
	if !found {
		t.Errorf("fail message %q not from default set", msg)
	}

	g.FailMessages = []string{"custom"}
	if g.FailMessage() != "custom" {
		t.Error("expected configured fail message")
	}
}
