package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
)

const (
	// defaultTimeout discards a track after this much inactivity.
	defaultTimeout = 6 * time.Hour
	// defaultDelay paces bot-authored messages in a conversation.
	defaultDelay = 500 * time.Millisecond
)

// Engine drives walkthroughs over direct messages. It owns the per-user
// track map; all tracks start empty at process startup and need no teardown.
type Engine struct {
	log *logger.Logger
	gw  gateway.Gateway

	delay   time.Duration
	timeout time.Duration

	mu     sync.Mutex
	tracks map[string]*Track
}

// NewEngine creates a conversation engine sending through the gateway.
func NewEngine(log *logger.Logger, gw gateway.Gateway) *Engine {
	return &Engine{
		log:     log,
		gw:      gw,
		delay:   defaultDelay,
		timeout: defaultTimeout,
		tracks:  make(map[string]*Track),
	}
}

// SetPacing overrides the delay before each bot-authored message. Zero
// disables pacing.
func (e *Engine) SetPacing(d time.Duration) {
	e.delay = d
}

// Start begins a walkthrough for the user, replacing any active track and
// its pending timeout. The first step's prompt is delivered before the
// track accepts answers.
func (e *Engine) Start(ctx context.Context, wt *Walkthrough, guildID, userID string) error {
	if len(wt.Steps) == 0 {
		return errors.New("walkthrough has no steps")
	}

	track := &Track{
		UserID:    userID,
		GuildID:   guildID,
		Completed: make(map[int]bool),
		Aux:       make(map[string]string),
		wt:        wt,
	}
	if wt.NewDraft != nil {
		track.Draft = wt.NewDraft()
	}
	track.timer = time.AfterFunc(e.timeout, func() { e.expire(userID, track) })

	e.mu.Lock()
	if old, ok := e.tracks[userID]; ok {
		old.timer.Stop()
		e.log.Debug("Replacing active walkthrough track",
			zap.String("user_id", userID),
			zap.String("walkthrough", wt.Name))
	}
	e.tracks[userID] = track
	e.mu.Unlock()

	e.dispatch(func() {
		if err := e.send(ctx, userID, wt.Steps[0].Open(track)); err != nil {
			e.log.Warn("Failed to deliver opening prompt",
				zap.String("user_id", userID),
				zap.Error(err))
			e.remove(track)
			return
		}
		e.resume(track, nil)
	})
	return nil
}

// dispatch runs fn inline when pacing is disabled, otherwise on its own
// goroutine. The pacing sleeps inside a step must not stall the caller's
// dispatch loop; the track's ready flag keeps per-user processing serial.
func (e *Engine) dispatch(fn func()) {
	if e.delay == 0 {
		fn()
		return
	}
	go fn()
}

// Active reports whether the user has a track in progress.
func (e *Engine) Active(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tracks[userID]
	return ok
}

// HandleDirect feeds one direct message into the user's active track.
// It reports whether the message was consumed by a walkthrough; a message
// from a user with no track (including a stray abort keyword) is not.
func (e *Engine) HandleDirect(ctx context.Context, userID, content string) bool {
	e.mu.Lock()
	track, ok := e.tracks[userID]
	if !ok {
		e.mu.Unlock()
		return false
	}

	if strings.TrimSpace(content) == abortKeyword {
		track.timer.Stop()
		delete(e.tracks, userID)
		e.mu.Unlock()

		e.log.Info("Walkthrough aborted",
			zap.String("user_id", userID),
			zap.String("walkthrough", track.wt.Name))
		e.dispatch(func() {
			if err := e.send(ctx, userID, "Okay, I've cancelled that. Nothing was saved."); err != nil {
				e.log.Warn("Failed to acknowledge abort", zap.Error(err))
			}
		})
		return true
	}

	if !track.ready {
		// A step is already in flight; extra messages are dropped.
		e.mu.Unlock()
		return true
	}
	track.ready = false
	track.timer.Reset(e.timeout)
	idx := track.StepIndex
	e.mu.Unlock()

	e.dispatch(func() { e.process(ctx, track, idx, content) })
	return true
}

// process runs one step's handler and routes the track accordingly. The
// track's ready flag stays false until the next prompt has been sent.
func (e *Engine) process(ctx context.Context, track *Track, idx int, input string) {
	wt := track.wt
	step := wt.Steps[idx]

	res, err := step.Process(ctx, track, input)
	if err != nil {
		// Step errors carry user-facing text; show it and re-ask.
		if serr := e.send(ctx, track.UserID, err.Error()); serr != nil {
			e.log.Warn("Failed to deliver step error", zap.Error(serr))
		}
		e.represent(ctx, track, idx)
		return
	}

	next := idx
	switch res.kind {
	case kindRetry:
		e.represent(ctx, track, idx)
		return
	case kindAdvance:
		track.Completed[idx] = true
		next = idx + 1
	case kindJumpName:
		track.Completed[idx] = true
		j, ok := wt.stepIndex(res.name)
		if !ok {
			e.log.Error("Walkthrough jump to unknown step",
				zap.String("walkthrough", wt.Name),
				zap.String("step", res.name))
			e.represent(ctx, track, idx)
			return
		}
		next = j
	case kindJumpIndex:
		track.Completed[idx] = true
		next = res.index
	}

	if next >= len(wt.Steps) {
		e.finish(ctx, track)
		return
	}

	track.StepIndex = next
	e.represent(ctx, track, next)
}

// finish runs the walkthrough's persistence hook at the terminal index.
func (e *Engine) finish(ctx context.Context, track *Track) {
	wt := track.wt

	msg, err := wt.Finish(ctx, track)
	var conflict *Conflict
	switch {
	case errors.As(err, &conflict):
		// Uniqueness conflict: keep the draft and re-enter the recovery
		// step instead of losing collected state.
		j, ok := wt.stepIndex(conflict.Step)
		if !ok {
			e.log.Error("Conflict recovery step not found",
				zap.String("walkthrough", wt.Name),
				zap.String("step", conflict.Step))
			e.abandon(ctx, track)
			return
		}
		if serr := e.send(ctx, track.UserID, conflict.Message); serr != nil {
			e.log.Warn("Failed to deliver conflict message", zap.Error(serr))
		}
		track.StepIndex = j
		e.represent(ctx, track, j)
	case err != nil:
		e.log.Error("Walkthrough persistence failed",
			zap.String("walkthrough", wt.Name),
			zap.String("user_id", track.UserID),
			zap.Error(err))
		e.abandon(ctx, track)
	default:
		if msg != "" {
			if serr := e.send(ctx, track.UserID, msg); serr != nil {
				e.log.Warn("Failed to deliver completion message", zap.Error(serr))
			}
		}
		e.remove(track)
	}
}

// abandon drops the track with a generic, non-fatal apology.
func (e *Engine) abandon(ctx context.Context, track *Track) {
	if err := e.send(ctx, track.UserID, "Sorry, something went wrong saving that. Please try again later."); err != nil {
		e.log.Warn("Failed to deliver apology", zap.Error(err))
	}
	e.remove(track)
}

// represent renders the step's prompt (repeat form when the step has
// completed before) and re-arms the track for the next answer.
func (e *Engine) represent(ctx context.Context, track *Track, idx int) {
	step := track.wt.Steps[idx]
	render := step.Open
	if track.Completed[idx] && step.Repeat != nil {
		render = step.Repeat
	}

	if err := e.send(ctx, track.UserID, render(track)); err != nil {
		e.log.Warn("Failed to deliver step prompt",
			zap.String("user_id", track.UserID),
			zap.Error(err))
	}
	e.resume(track, nil)
}

// resume re-arms the track if it is still the user's active one. A track
// replaced mid-step stays dead.
func (e *Engine) resume(track *Track, apply func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracks[track.UserID] != track {
		return
	}
	if apply != nil {
		apply()
	}
	track.ready = true
}

// remove deletes the track if it is still current.
func (e *Engine) remove(track *Track) {
	track.timer.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracks[track.UserID] == track {
		delete(e.tracks, track.UserID)
	}
}

// expire silently discards a track after the inactivity timeout.
func (e *Engine) expire(userID string, track *Track) {
	e.mu.Lock()
	if e.tracks[userID] != track {
		e.mu.Unlock()
		return
	}
	delete(e.tracks, userID)
	e.mu.Unlock()

	e.log.Info("Walkthrough track expired",
		zap.String("user_id", userID),
		zap.String("walkthrough", track.wt.Name))
}

// send delivers one bot-authored message with the conversational pacing
// delay.
func (e *Engine) send(ctx context.Context, userID, content string) error {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.gw.Direct(ctx, userID, content)
}
