package recorder

import "time"

// DefaultDoubleTapWindow is the interval within which two presses collapse
// into one cancel.
const DefaultDoubleTapWindow = 300 * time.Millisecond

// doubleTap collapses rapid trigger presses into a single cancel action.
// Two presses within the window fire once; a third press inside the same
// window is absorbed; an isolated press is a no-op. Not safe for concurrent
// use — the coordinator calls it under its own lock.
type doubleTap struct {
	window time.Duration
	first  time.Time
	fired  bool
}

func newDoubleTap(window time.Duration) *doubleTap {
	if window <= 0 {
		window = DefaultDoubleTapWindow
	}
	return &doubleTap{window: window}
}

// press records one press at time t and reports whether it completes a
// double-tap.
func (d *doubleTap) press(t time.Time) bool {
	if d.first.IsZero() || t.Sub(d.first) > d.window {
		// Start of a fresh window.
		d.first = t
		d.fired = false
		return false
	}
	if d.fired {
		return false
	}
	d.fired = true
	return true
}

// reset forgets any in-progress window, e.g. when recording ends.
func (d *doubleTap) reset() {
	d.first = time.Time{}
	d.fired = false
}
