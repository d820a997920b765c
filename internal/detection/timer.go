package detection

import "time"

// Timer gates captures: presence must hold for the debounce duration and the
// previous completed capture must be at least the cooldown in the past.
//
// While in cooldown the debounce stays armed, so a continuous presence fires
// as soon as the cooldown ends.
type Timer struct {
	debounce time.Duration
	cooldown time.Duration

	startedAt     time.Time
	lastCaptureAt time.Time
}

// NewTimer creates a Timer. No capture has happened yet, so the first
// debounced presence fires without waiting for a cooldown.
func NewTimer(debounce, cooldown time.Duration) *Timer {
	return &Timer{debounce: debounce, cooldown: cooldown}
}

// Tick feeds one presence reading and reports whether a capture should start.
func (t *Timer) Tick(present bool, now time.Time) bool {
	if !present {
		t.startedAt = time.Time{}
		return false
	}
	if t.startedAt.IsZero() {
		t.startedAt = now
		return false
	}
	if now.Sub(t.startedAt) < t.debounce {
		return false
	}
	if !t.lastCaptureAt.IsZero() && now.Sub(t.lastCaptureAt) < t.cooldown {
		return false
	}
	t.startedAt = time.Time{}
	return true
}

// MarkCaptured records the completion of a capture cycle and starts the cooldown.
func (t *Timer) MarkCaptured(at time.Time) {
	t.lastCaptureAt = at
}

// LastCapture returns the completion time of the last capture, zero if none.
func (t *Timer) LastCapture() time.Time {
	return t.lastCaptureAt
}

// Armed reports whether a presence is currently being debounced.
func (t *Timer) Armed() bool {
	return !t.startedAt.IsZero()
}
