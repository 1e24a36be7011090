// Package convo implements the guided conversation engine: a per-user
// finite-state machine that walks a user through an ordered list of
// question/answer steps over direct messages.
package convo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Track is the ephemeral state of one user's in-progress walkthrough.
// At most one track exists per user; a new walkthrough replaces it.
type Track struct {
	UserID  string
	GuildID string

	// StepIndex is the current position in the walkthrough's step list.
	StepIndex int
	// Completed records step indices whose process handler has succeeded
	// at least once, selecting the repeat prompt on re-entry.
	Completed map[int]bool
	// Draft is the entity under construction, created by the walkthrough's
	// NewDraft producer. Steps type-assert it to their concrete type.
	Draft interface{}
	// Aux holds free-form scratch values written by steps, such as the
	// name of the stat the user is currently being asked for.
	Aux map[string]string

	// ready is false while a step's process call is in flight; messages
	// arriving mid-step are dropped, not queued.
	ready bool

	timer *time.Timer
	wt    *Walkthrough
}

// Step is one question/answer stage of a walkthrough.
type Step struct {
	// Name identifies the step for jump targets.
	Name string
	// Open renders the question on first entry to the step.
	Open func(t *Track) string
	// Repeat, when set, renders an alternate question on re-entry after
	// the step has already completed once. Supports loops such as asking
	// for one more stat.
	Repeat func(t *Track) string
	// Process consumes the user's answer. A returned error is shown to
	// the user verbatim and the step is re-presented without advancing.
	Process func(ctx context.Context, t *Track, input string) (Result, error)
}

// resultKind discriminates Result values.
type resultKind int

const (
	kindRetry resultKind = iota
	kindAdvance
	kindJumpName
	kindJumpIndex
)

// Result tells the engine where to go after a process call.
type Result struct {
	kind  resultKind
	name  string
	index int
}

// Advance moves to the next step in order.
func Advance() Result { return Result{kind: kindAdvance} }

// Retry re-presents the current step without advancing.
func Retry() Result { return Result{kind: kindRetry} }

// Jump moves to the step with the given name.
func Jump(name string) Result { return Result{kind: kindJumpName, name: name} }

// JumpIndex moves to an arbitrary step index. An index equal to the step
// count signals completion.
func JumpIndex(i int) Result { return Result{kind: kindJumpIndex, index: i} }

// Walkthrough is an ordered list of steps plus the persistence hook run on
// completion.
type Walkthrough struct {
	// Name identifies the walkthrough in logs.
	Name string
	Steps []Step
	// NewDraft produces the empty entity the steps fill in.
	NewDraft func() interface{}
	// Finish persists the assembled draft when the terminal index is
	// reached and returns the confirmation message to send. A returned
	// *Conflict re-enters its recovery step instead of ending the track;
	// any other error abandons the track with a generic apology.
	Finish func(ctx context.Context, t *Track) (string, error)
}

// stepIndex resolves a step name to its index.
func (w *Walkthrough) stepIndex(name string) (int, bool) {
	for i, s := range w.Steps {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Conflict is returned by a walkthrough's Finish hook when persistence hits
// a uniqueness violation. The engine re-enters the named recovery step with
// the collected draft intact.
type Conflict struct {
	// Step is the name of the recovery step to re-enter.
	Step string
	// Message is shown to the user before the recovery prompt.
	Message string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("conflict, recover via step %s: %s", c.Step, c.Message)
}

// abortKeyword cancels a track immediately, bypassing step logic.
const abortKeyword = "ABORT"

// IsSkip reports whether the answer is the generic "skip" token, ignoring
// case and surrounding punctuation. Steps opt in to honoring it.
func IsSkip(input string) bool {
	trimmed := strings.TrimFunc(input, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	})
	return strings.EqualFold(trimmed, "skip")
}
