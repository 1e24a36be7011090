package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
)

type recordingGateway struct {
	gateway.Gateway

	mu   sync.Mutex
	sent []string
}

func (g *recordingGateway) Direct(ctx context.Context, userID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, content)
	return nil
}

func (g *recordingGateway) messages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	copy(out, g.sent)
	return out
}

func (g *recordingGateway) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return ""
	}
	return g.sent[len(g.sent)-1]
}

func testEngine(t *testing.T) (*Engine, *recordingGateway) {
	t.Helper()

	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	gw := &recordingGateway{}
	e := NewEngine(log, gw)
	e.delay = 0
	return e, gw
}

// draft is the entity assembled by the test walkthroughs.
type draft struct {
	Name  string
	Color string
}

func nameColorWalkthrough(finish func(ctx context.Context, t *Track) (string, error)) *Walkthrough {
	return &Walkthrough{
		Name:     "test",
		NewDraft: func() interface{} { return &draft{} },
		Steps: []Step{
			{
				Name: "name",
				Open: func(t *Track) string { return "What is your name?" },
				Process: func(ctx context.Context, t *Track, input string) (Result, error) {
					if input == "" {
						return Retry(), nil
					}
					if strings.Contains(input, "!") {
						return Retry(), errors.New("Names cannot contain punctuation.")
					}
					t.Draft.(*draft).Name = input
					return Advance(), nil
				},
			},
			{
				Name:   "color",
				Open:   func(t *Track) string { return "Favorite color?" },
				Repeat: func(t *Track) string { return "Another color?" },
				Process: func(ctx context.Context, t *Track, input string) (Result, error) {
					t.Draft.(*draft).Color = input
					if input == "again" {
						return Jump("color"), nil
					}
					return JumpIndex(2), nil
				},
			},
		},
		Finish: finish,
	}
}

func TestWalkthroughCompletes(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	var saved *draft
	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		saved = tr.Draft.(*draft)
		return "All done!", nil
	})

	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !e.Active("u1") {
		t.Fatal("track should be active after start")
	}
	if gw.last() != "What is your name?" {
		t.Fatalf("expected opening prompt, got %q", gw.last())
	}

	if !e.HandleDirect(ctx, "u1", "Mordai") {
		t.Fatal("answer should be consumed")
	}
	if gw.last() != "Favorite color?" {
		t.Fatalf("expected second prompt, got %q", gw.last())
	}

	e.HandleDirect(ctx, "u1", "red")
	if gw.last() != "All done!" {
		t.Fatalf("expected completion message, got %q", gw.last())
	}
	if e.Active("u1") {
		t.Error("track should be discarded on completion")
	}
	if saved == nil || saved.Name != "Mordai" || saved.Color != "red" {
		t.Errorf("draft not assembled: %+v", saved)
	}
}

func TestStepRetryAndError(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "done", nil
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Falsy result re-presents the prompt without advancing.
	e.HandleDirect(ctx, "u1", "")
	if gw.last() != "What is your name?" {
		t.Fatalf("retry should re-ask, got %q", gw.last())
	}

	// A step error is shown verbatim, then the prompt repeats.
	e.HandleDirect(ctx, "u1", "no!")
	msgs := gw.messages()
	if len(msgs) < 2 || msgs[len(msgs)-2] != "Names cannot contain punctuation." {
		t.Fatalf("step error should be delivered, got %v", msgs)
	}
	if gw.last() != "What is your name?" {
		t.Fatalf("prompt should repeat after error, got %q", gw.last())
	}

	// The track is still on the first step.
	e.HandleDirect(ctx, "u1", "Mordai")
	if gw.last() != "Favorite color?" {
		t.Fatalf("expected second prompt, got %q", gw.last())
	}
}

func TestRepeatPromptOnLoop(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "done", nil
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	e.HandleDirect(ctx, "u1", "Mordai")
	e.HandleDirect(ctx, "u1", "again")
	if gw.last() != "Another color?" {
		t.Fatalf("looping step should use the repeat prompt, got %q", gw.last())
	}
}

func TestAbort(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	// A stray abort with no track is not consumed.
	if e.HandleDirect(ctx, "u1", "ABORT") {
		t.Fatal("abort with no active track should not be consumed")
	}

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "done", nil
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	if !e.HandleDirect(ctx, "u1", " ABORT ") {
		t.Fatal("abort should be consumed")
	}
	if e.Active("u1") {
		t.Error("track should be gone after abort")
	}
	if !strings.Contains(gw.last(), "cancelled") {
		t.Errorf("expected cancellation acknowledgment, got %q", gw.last())
	}

	// Lowercase is a normal answer, not an abort.
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	e.HandleDirect(ctx, "u1", "abort")
	if !e.Active("u1") {
		t.Error("lowercase abort must not cancel the track")
	}
}

func TestStartReplacesActiveTrack(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "done", nil
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	e.HandleDirect(ctx, "u1", "Mordai")

	// Second start rewinds to the first prompt.
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if gw.last() != "What is your name?" {
		t.Fatalf("restart should deliver the opening prompt, got %q", gw.last())
	}

	e.HandleDirect(ctx, "u1", "Renna")
	if gw.last() != "Favorite color?" {
		t.Fatalf("replacement track should be live, got %q", gw.last())
	}
}

func TestConflictRecoveryPreservesDraft(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	attempts := 0
	var saved *draft
	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		attempts++
		if attempts == 1 {
			return "", &Conflict{Step: "name", Message: "That name is taken."}
		}
		saved = tr.Draft.(*draft)
		return "Saved.", nil
	})

	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	e.HandleDirect(ctx, "u1", "Mordai")
	e.HandleDirect(ctx, "u1", "red")

	msgs := gw.messages()
	if msgs[len(msgs)-2] != "That name is taken." {
		t.Fatalf("conflict message should be delivered, got %v", msgs)
	}
	if gw.last() != "What is your name?" {
		t.Fatalf("recovery step prompt expected, got %q", gw.last())
	}
	if !e.Active("u1") {
		t.Fatal("track must survive a naming conflict")
	}

	e.HandleDirect(ctx, "u1", "Renna")
	e.HandleDirect(ctx, "u1", "blue")
	if gw.last() != "Saved." {
		t.Fatalf("expected save confirmation, got %q", gw.last())
	}
	if saved == nil || saved.Name != "Renna" || saved.Color != "blue" {
		t.Errorf("draft = %+v", saved)
	}
}

func TestPersistenceFailureAbandons(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "", fmt.Errorf("store unavailable")
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	e.HandleDirect(ctx, "u1", "Mordai")
	e.HandleDirect(ctx, "u1", "red")

	if e.Active("u1") {
		t.Error("track should be abandoned after a persistence failure")
	}
	if !strings.Contains(gw.last(), "Sorry") {
		t.Errorf("expected generic apology, got %q", gw.last())
	}
}

func TestReadyFlagDropsReentrantMessages(t *testing.T) {
	e, gw := testEngine(t)
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	wt := &Walkthrough{
		Name:     "slow",
		NewDraft: func() interface{} { return &draft{} },
		Steps: []Step{
			{
				Name: "slow",
				Open: func(t *Track) string { return "go" },
				Process: func(ctx context.Context, t *Track, input string) (Result, error) {
					close(entered)
					<-release
					t.Draft.(*draft).Name = input
					return Advance(), nil
				},
			},
		},
		Finish: func(ctx context.Context, tr *Track) (string, error) {
			return "done: " + tr.Draft.(*draft).Name, nil
		},
	}

	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.HandleDirect(ctx, "u1", "first")
		close(done)
	}()
	<-entered

	// The step is in flight; this message is consumed but dropped.
	if !e.HandleDirect(ctx, "u1", "second") {
		t.Error("mid-step message should still be consumed")
	}

	close(release)
	<-done

	if gw.last() != "done: first" {
		t.Errorf("only the in-flight answer should be processed, got %q", gw.last())
	}
}

func TestInactivityTimeout(t *testing.T) {
	e, _ := testEngine(t)
	e.timeout = 20 * time.Millisecond
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "done", nil
	})
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Active("u1") {
		if time.Now().After(deadline) {
			t.Fatal("track should expire after the inactivity timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIsSkip(t *testing.T) {
	for _, input := range []string{"skip", "SKIP", " Skip. ", "skip!"} {
		if !IsSkip(input) {
			t.Errorf("IsSkip(%q) should be true", input)
		}
	}
	for _, input := range []string{"skipping", "no", "s k i p"} {
		if IsSkip(input) {
			t.Errorf("IsSkip(%q) should be false", input)
		}
	}
}

func TestPacedSendsRunOffCallerGoroutine(t *testing.T) {
	e, gw := testEngine(t)
	e.SetPacing(50 * time.Millisecond)
	ctx := context.Background()

	wt := nameColorWalkthrough(func(ctx context.Context, tr *Track) (string, error) {
		return "All done!", nil
	})

	start := time.Now()
	if err := e.Start(ctx, wt, "g1", "u1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("Start blocked %v on the pacing delay", elapsed)
	}

	waitFor := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for gw.last() != want {
			select {
			case <-deadline:
				t.Fatalf("expected %q, got %q", want, gw.last())
			case <-time.After(5 * time.Millisecond):
			}
		}
	}
	waitFor("What is your name?")

	start = time.Now()
	if !e.HandleDirect(ctx, "u1", "Mordai") {
		t.Fatal("answer should be consumed")
	}
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("HandleDirect blocked %v on the pacing delay", elapsed)
	}
	waitFor("Favorite color?")
}
