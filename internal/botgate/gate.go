// Package botgate decides whether the automated assistant may answer a lead.
//
// A lead's bot is either ACTIVE or PAUSED. Humans pause and resume it by hand.
// While paused, every inbound message re-evaluates the pause: once the
// reactivation window has elapsed since the pause was recorded, the bot is
// resumed automatically and answers that message. The check is time-only; it
// does not look at whether a human actually replied during the window.
package botgate

import (
	"time"

	"realty-bot/internal/domain"
)

// DefaultWindow is how long a manual pause holds before automatic reactivation.
const DefaultWindow = 10 * time.Minute

type State string

const (
	Active State = "ACTIVE"
	Paused State = "PAUSED"
)

// StateOf maps persisted bot fields to a gate state.
func StateOf(b domain.BotState) State {
	if b.Active {
		return Active
	}
	return Paused
}

// Decision is the outcome of evaluating the gate for one inbound message.
type Decision struct {
	Allow bool
	// Reactivated is set when the gate flipped PAUSED -> ACTIVE on this
	// evaluation; the caller must persist Next.
	Reactivated bool
	// PausedFor is the elapsed pause, zero when unknown or not paused.
	PausedFor time.Duration
	Next      domain.BotState
}

type Gate struct {
	window time.Duration
}

// New returns a Gate with the given reactivation window, or DefaultWindow
// when window is not positive.
func New(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{window: window}
}

func (g *Gate) Window() time.Duration {
	return g.window
}

// Evaluate applies the automatic transition for a message arriving at now.
func (g *Gate) Evaluate(b domain.BotState, now time.Time) Decision {
	if b.Active {
		return Decision{Allow: true, Next: b}
	}
	// Paused without a timestamp: elapsed time is unknown, stay closed.
	if b.DeactivatedAt == nil {
		return Decision{Next: b}
	}
	elapsed := now.Sub(*b.DeactivatedAt)
	if elapsed < g.window {
		if elapsed < 0 {
			elapsed = 0
		}
		return Decision{PausedFor: elapsed, Next: b}
	}
	return Decision{
		Allow:       true,
		Reactivated: true,
		PausedFor:   elapsed,
		Next:        Resume(),
	}
}

// ReactivatesIn reports how long until an automatic reactivation would occur.
// ok is false when the bot is active or the pause has no timestamp.
func (g *Gate) ReactivatesIn(b domain.BotState, now time.Time) (remaining time.Duration, ok bool) {
	if b.Active || b.DeactivatedAt == nil {
		return 0, false
	}
	remaining = g.window - now.Sub(*b.DeactivatedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Pause records a manual ACTIVE -> PAUSED transition.
func Pause(actor string, now time.Time) domain.BotState {
	at := now.UTC()
	return domain.BotState{Active: false, DeactivatedAt: &at, DeactivatedBy: actor}
}

// Resume returns the ACTIVE state with the pause fields cleared.
func Resume() domain.BotState {
	return domain.BotState{Active: true}
}

// Toggle flips the current state on behalf of a human actor.
func Toggle(current domain.BotState, actor string, now time.Time) domain.BotState {
	if current.Active {
		return Pause(actor, now)
	}
	return Resume()
}
