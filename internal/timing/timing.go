// Package timing tracks per-surface frame durations and decides when an
// overloaded session should skip presents.
package timing

import "time"

// ringSize is how many recent frame durations feed the load estimate.
const ringSize = 60

// Thresholds for the skip policy.
const (
	exitLoad    = 0.6
	enterLoad   = 0.8
	enterStreak = 3
)

// Tracker is one session's frame-timing state. Not safe for concurrent use;
// the engine thread owns it.
type Tracker struct {
	target time.Duration

	ring  [ringSize]time.Duration
	count int
	next  int
	sum   time.Duration

	skipping    bool
	overStreak  int
	skippedLast bool

	lastTransition time.Time
	transitions    int
}

// NewTracker derives the target frame duration from an FPS cap, or from the
// output refresh rate (in mHz) when no cap is set.
func NewTracker(fpsCap float64, refreshmHz int32) *Tracker {
	target := time.Second / 60
	if fpsCap > 0 {
		target = time.Duration(float64(time.Second) / fpsCap)
	} else if refreshmHz > 0 {
		target = time.Duration(int64(time.Second) * 1000 / int64(refreshmHz))
	}
	return &Tracker{target: target}
}

// Target returns the frame budget.
func (t *Tracker) Target() time.Duration { return t.target }

// Record adds one observed frame duration and updates the skip decision.
func (t *Tracker) Record(d time.Duration) {
	if t.count == ringSize {
		t.sum -= t.ring[t.next]
	} else {
		t.count++
	}
	t.ring[t.next] = d
	t.next = (t.next + 1) % ringSize
	t.sum += d

	load := t.Load()
	switch {
	case t.skipping && load < exitLoad:
		t.skipping = false
		t.overStreak = 0
		t.transitions++
	case !t.skipping && load > enterLoad:
		t.overStreak++
		if t.overStreak >= enterStreak {
			t.skipping = true
			t.transitions++
		}
	default:
		t.overStreak = 0
	}
}

// Load is the recent average frame duration over the target.
func (t *Tracker) Load() float64 {
	if t.count == 0 || t.target == 0 {
		return 0
	}
	avg := t.sum / time.Duration(t.count)
	return float64(avg) / float64(t.target)
}

// Skipping reports whether the session is in skip mode.
func (t *Tracker) Skipping() bool { return t.skipping }

// ShouldRender decides whether this callback renders. In skip mode every
// other callback renders; two consecutive presents are never skipped.
func (t *Tracker) ShouldRender() bool {
	if !t.skipping {
		t.skippedLast = false
		return true
	}
	if t.skippedLast {
		t.skippedLast = false
		return true
	}
	t.skippedLast = true
	return false
}

// Transitions counts skip-mode flips, for transition-edge logging.
func (t *Tracker) Transitions() int { return t.transitions }
