package characters

import (
	"context"
	"strings"
	"sync"
	"testing"

	"tavernbot/pkg/convo"
	"tavernbot/pkg/gateway"
)

type dmRecorder struct {
	gateway.Gateway

	mu   sync.Mutex
	sent []string
}

func (g *dmRecorder) Direct(ctx context.Context, userID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, content)
	return nil
}

func (g *dmRecorder) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return ""
	}
	return g.sent[len(g.sent)-1]
}

func TestCreationWalkthrough(t *testing.T) {
	store, ss, log := testFixtures(t)
	ctx := context.Background()

	gw := &dmRecorder{}
	engine := convo.NewEngine(log, gw)
	engine.SetPacing(0)
	wt := NewWalkthrough(store, ss)

	if err := engine.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	for _, answer := range []string{
		"Mordai", "warlock", "A tiefling with a grudge.", "skip",
		"strength", "18", "charisma", "20", "done",
	} {
		if !engine.HandleDirect(ctx, "u1", answer) {
			t.Fatalf("answer %q not consumed", answer)
		}
	}

	if engine.Active("u1") {
		t.Fatal("walkthrough should be finished")
	}
	if !strings.Contains(gw.last(), "Mordai is ready") {
		t.Errorf("expected completion message, got %q", gw.last())
	}

	c, err := store.Get(ctx, "g1", "Mordai")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if c.Owner != "u1" || c.Template != "warlock" || c.Image != "" {
		t.Errorf("character = %+v", c)
	}
	if c.Stats["strength"] != "18" || c.Stats["charisma"] != "20" {
		t.Errorf("stats = %v", c.Stats)
	}

	u, err := ss.User(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("User error: %v", err)
	}
	if u.CurrentCharacter != "Mordai" {
		t.Errorf("current character = %q", u.CurrentCharacter)
	}
}

func TestCreationNameConflictRecovery(t *testing.T) {
	store, ss, log := testFixtures(t)
	ctx := context.Background()

	if err := store.Create(ctx, "g1", &Character{Name: "Mordai", Owner: "u9"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	gw := &dmRecorder{}
	engine := convo.NewEngine(log, gw)
	engine.SetPacing(0)
	wt := NewWalkthrough(store, ss)

	if err := engine.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	for _, answer := range []string{
		"Mordai", "skip", "Forged in fire.", "skip", "grit", "7", "done",
	} {
		engine.HandleDirect(ctx, "u1", answer)
	}

	// The save conflicts; the rename step takes over with the draft intact.
	if !engine.Active("u1") {
		t.Fatal("track must survive the naming conflict")
	}
	if !strings.Contains(gw.last(), "different name") {
		t.Fatalf("expected rename prompt, got %q", gw.last())
	}

	engine.HandleDirect(ctx, "u1", "Renna")
	if engine.Active("u1") {
		t.Fatal("walkthrough should finish after the rename")
	}

	c, err := store.Get(ctx, "g1", "Renna")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if c.Description != "Forged in fire." || c.Stats["grit"] != "7" {
		t.Errorf("draft fields lost across the conflict: %+v", c)
	}
}

func TestCreationNameRefusesSkip(t *testing.T) {
	store, ss, log := testFixtures(t)
	ctx := context.Background()

	gw := &dmRecorder{}
	engine := convo.NewEngine(log, gw)
	engine.SetPacing(0)
	wt := NewWalkthrough(store, ss)

	if err := engine.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	engine.HandleDirect(ctx, "u1", "skip")
	if !strings.Contains(gw.last(), "name") {
		t.Fatalf("first skip should be challenged, got %q", gw.last())
	}

	// Repeating the same answer confirms it as a literal name.
	engine.HandleDirect(ctx, "u1", "skip")
	engine.HandleDirect(ctx, "u1", "skip")    // template step honors skip
	engine.HandleDirect(ctx, "u1", "skip")    // description
	engine.HandleDirect(ctx, "u1", "skip")    // image
	engine.HandleDirect(ctx, "u1", "done")    // stats
	if engine.Active("u1") {
		t.Fatal("walkthrough should have completed")
	}

	if _, err := store.Get(ctx, "g1", "skip"); err != nil {
		t.Errorf("confirmed literal name should be saved: %v", err)
	}
}
