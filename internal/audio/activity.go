package audio

import (
	"sync"
	"time"

	"voicemesh/internal/core/domain"
)

// DefaultTalkThreshold is the normalized RMS above which a stream counts as
// speech. It is deliberately below any sensible gate threshold so the
// detector reacts to quiet talkers the gate would attenuate.
const DefaultTalkThreshold = 0.01

// Detector flips "talking" on the first above-threshold reading and holds it
// for the hold duration after the signal drops, so short pauses between words
// do not flicker the indicator.
type Detector struct {
	threshold float64
	hold      time.Duration
	now       func() time.Time

	mu        sync.Mutex
	talking   bool
	lastAbove time.Time
}

func NewDetector(threshold float64, hold time.Duration) *Detector {
	return newDetector(threshold, hold, time.Now)
}

func newDetector(threshold float64, hold time.Duration, now func() time.Time) *Detector {
	return &Detector{threshold: threshold, hold: hold, now: now}
}

// Observe feeds one energy reading and returns the resulting talking state.
func (d *Detector) Observe(energy float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if energy >= d.threshold {
		d.talking = true
		d.lastAbove = d.now()
		return true
	}
	if d.talking && d.now().Sub(d.lastAbove) >= d.hold {
		d.talking = false
	}
	return d.talking
}

// Talking reports the current state, expiring the hold if it has lapsed.
func (d *Detector) Talking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.talking && d.now().Sub(d.lastAbove) >= d.hold {
		d.talking = false
	}
	return d.talking
}

// SelfID keys the local participant's own detector in a Tracker.
const SelfID domain.UserID = "self"

// Tracker holds one detector per stream, created lazily on first observation.
type Tracker struct {
	threshold float64
	hold      time.Duration
	onChange  func(domain.UserID, bool)

	mu        sync.Mutex
	detectors map[domain.UserID]*Detector
	states    map[domain.UserID]bool
}

// NewTracker builds a tracker. onChange, if non-nil, fires on every talking
// transition; it is called with the tracker lock held, so it must not call
// back into the tracker.
func NewTracker(threshold float64, hold time.Duration, onChange func(domain.UserID, bool)) *Tracker {
	return &Tracker{
		threshold: threshold,
		hold:      hold,
		onChange:  onChange,
		detectors: make(map[domain.UserID]*Detector),
		states:    make(map[domain.UserID]bool),
	}
}

// Observe feeds an energy reading for one stream and returns the resulting
// talking state.
func (t *Tracker) Observe(id domain.UserID, energy float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.detectors[id]
	if !ok {
		d = newDetector(t.threshold, t.hold, time.Now)
		t.detectors[id] = d
	}
	talking := d.Observe(energy)
	if talking != t.states[id] {
		t.states[id] = talking
		if t.onChange != nil {
			t.onChange(id, talking)
		}
	}
	return talking
}

// Talking reports the last known state for a stream.
func (t *Tracker) Talking(id domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id]
}

// Remove drops a stream's detector when its peer session goes away.
func (t *Tracker) Remove(id domain.UserID) {
	t.mu.Lock()
	delete(t.detectors, id)
	delete(t.states, id)
	t.mu.Unlock()
}

// Reset drops every detector, used when leaving a room.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.detectors = make(map[domain.UserID]*Detector)
	t.states = make(map[domain.UserID]bool)
	t.mu.Unlock()
}
