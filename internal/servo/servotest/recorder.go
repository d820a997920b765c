// Package servotest provides an in-memory servo.Driver for tests.
package servotest

import (
	"sync"
)

// Call is one SetDuty invocation.
type Call struct {
	Channel int
	Percent float64
}

// Recorder records duty cycle writes. FailChannels makes writes to the listed
// channels fail.
type Recorder struct {
	mu           sync.Mutex
	calls        []Call
	closed       bool
	FailChannels map[int]error
	// OnSet, when set, runs after each recorded write.
	OnSet func(Call)
}

// SetDuty records the write.
func (r *Recorder) SetDuty(channel int, percent float64) error {
	r.mu.Lock()
	if err := r.FailChannels[channel]; err != nil {
		r.mu.Unlock()
		return err
	}
	c := Call{Channel: channel, Percent: percent}
	r.calls = append(r.calls, c)
	hook := r.OnSet
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Calls returns every recorded write.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns only the non-zero writes, i.e. the commanded positions.
func (r *Recorder) Commands() []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Percent != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
