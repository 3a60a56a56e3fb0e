// Package butil holds the small self-contained helpers every Channel and
// Connection needs: cancellable single-shot timers, header rune fixup, and
// byte-slice chunking.
package butil

import (
	"sync"
	"time"
)

// Timer is a single-shot, cancellable timer. Cancel is safe to call after
// the timer has already fired (and is then a no-op), matching the
// cancel-is-a-no-op contract the original library's Timer.cancel()
// provides.
type Timer struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
}

// AfterFunc starts a Timer that calls fn after d, unless cancelled first.
func AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel prevents the timer's callback from firing if it hasn't already.
// A no-op if the timer already fired or was already cancelled.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return
	}
	t.cancelled = true
	t.timer.Stop()
}

// Fired reports whether the timer has fired: it is true from the moment the
// callback starts, including while the callback is still running.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
