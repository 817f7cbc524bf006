package typing

import (
	"sort"
	"time"
)

// IdleTimeout is how long after the last keystroke the local typing state
// falls back to idle, and how long a remote indicator survives without a
// refresh. Remote expiry is the self-healing path for lost stop events.
const IdleTimeout = 1000 * time.Millisecond

type remoteEntry struct {
	name    string
	expires time.Time
}

// Coordinator debounces local keystrokes into exactly one start signal and
// one stop signal per typing burst, and expires remote typing indicators.
// Pure state machine; the engine owns the timers and feeds in the clock.
type Coordinator struct {
	typing   bool
	deadline time.Time

	remote map[int]remoteEntry
}

func NewCoordinator() *Coordinator {
	return &Coordinator{remote: make(map[int]remoteEntry)}
}

// Keystroke re-arms the idle deadline and reports whether this keystroke
// transitions Idle -> Typing, in which case the caller emits one start
// signal. Continuous typing never repeats the signal.
func (c *Coordinator) Keystroke(now time.Time) (emitStart bool) {
	c.deadline = now.Add(IdleTimeout)
	if c.typing {
		return false
	}
	c.typing = true
	return true
}

// Expire transitions Typing -> Idle once the deadline passes and reports
// whether the caller should emit one stop signal.
func (c *Coordinator) Expire(now time.Time) (emitStop bool) {
	if !c.typing || now.Before(c.deadline) {
		return false
	}
	c.typing = false
	return true
}

// MessageSent transitions Typing -> Idle immediately and reports whether a
// stop signal is owed. Sending while idle owes nothing.
func (c *Coordinator) MessageSent() (emitStop bool) {
	if !c.typing {
		return false
	}
	c.typing = false
	return true
}

// Typing reports the local state.
func (c *Coordinator) Typing() bool { return c.typing }

// ObserveRemote refreshes the expiry for a remote user's typing indicator.
func (c *Coordinator) ObserveRemote(userID int, name string, now time.Time) {
	c.remote[userID] = remoteEntry{name: name, expires: now.Add(IdleTimeout)}
}

// StopRemote clears a remote indicator on an explicit stop signal.
func (c *Coordinator) StopRemote(userID int) bool {
	if _, ok := c.remote[userID]; !ok {
		return false
	}
	delete(c.remote, userID)
	return true
}

// ExpireRemote drops remote indicators whose expiry has passed and reports
// whether any were dropped. An indicator never persists indefinitely after
// a dropped stop event.
func (c *Coordinator) ExpireRemote(now time.Time) bool {
	changed := false
	for id, e := range c.remote {
		if !now.Before(e.expires) {
			delete(c.remote, id)
			changed = true
		}
	}
	return changed
}

// Remote returns the display names of users currently typing, sorted.
func (c *Coordinator) Remote() []string {
	out := make([]string, 0, len(c.remote))
	for _, e := range c.remote {
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// NextDeadline returns the earliest pending expiry, local or remote, and
// whether one exists. The engine arms its timer from this.
func (c *Coordinator) NextDeadline() (time.Time, bool) {
	var next time.Time
	ok := false
	if c.typing {
		next = c.deadline
		ok = true
	}
	for _, e := range c.remote {
		if !ok || e.expires.Before(next) {
			next = e.expires
			ok = true
		}
	}
	return next, ok
}

// Reset drops all local and remote state, used on room switches and
// disconnects.
func (c *Coordinator) Reset() {
	c.typing = false
	c.deadline = time.Time{}
	c.remote = make(map[int]remoteEntry)
}
