package audio

import (
	"testing"
	"time"

	"voicemesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests drive the hold timer deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func TestDetectorFlipsOnImmediately(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	d := newDetector(0.01, 600*time.Millisecond, clock.now)

	assert.False(t, d.Talking())
	assert.True(t, d.Observe(0.05), "one above-threshold sample flips talking on")
}

func TestDetectorHoldsThroughShortPauses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	d := newDetector(0.01, 600*time.Millisecond, clock.now)

	d.Observe(0.05)

	clock.advance(200 * time.Millisecond)
	assert.True(t, d.Observe(0.001), "below threshold inside the hold window stays talking")

	clock.advance(300 * time.Millisecond)
	assert.True(t, d.Talking(), "still inside the hold window")

	clock.advance(200 * time.Millisecond)
	assert.False(t, d.Talking(), "hold elapsed with no further speech")
}

func TestDetectorHoldRestartsOnNewSpeech(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	d := newDetector(0.01, 600*time.Millisecond, clock.now)

	d.Observe(0.05)
	clock.advance(500 * time.Millisecond)
	d.Observe(0.05) // speech again just before the hold lapses

	clock.advance(500 * time.Millisecond)
	assert.True(t, d.Talking(), "hold is measured from the last above-threshold sample")

	clock.advance(200 * time.Millisecond)
	assert.False(t, d.Talking())
}

func TestTrackerFiresOnTransitionsOnly(t *testing.T) {
	var transitions []string
	tr := NewTracker(0.01, 0, func(id domain.UserID, talking bool) {
		if talking {
			transitions = append(transitions, string(id)+":on")
		} else {
			transitions = append(transitions, string(id)+":off")
		}
	})

	tr.Observe("alice", 0.05)
	tr.Observe("alice", 0.06) // no transition
	tr.Observe("bob", 0.05)
	tr.Observe("alice", 0.001) // hold of zero: off immediately

	assert.Equal(t, []string{"alice:on", "bob:on", "alice:off"}, transitions)
	assert.False(t, tr.Talking("alice"))
	assert.True(t, tr.Talking("bob"))
}

func TestTrackerRemoveDropsState(t *testing.T) {
	tr := NewTracker(0.01, time.Minute, nil)
	tr.Observe("alice", 0.05)
	assert.True(t, tr.Talking("alice"))

	tr.Remove("alice")
	assert.False(t, tr.Talking("alice"))

	tr.Observe("bob", 0.05)
	tr.Reset()
	assert.False(t, tr.Talking("bob"))
}
