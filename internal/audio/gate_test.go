package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func frameAt(level float64, samples int) []int16 {
	frame := make([]int16, samples)
	v := int16(level * 32767)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = v
		} else {
			frame[i] = -v
		}
	}
	return frame
}

func TestGateOpensFastClosesSlow(t *testing.T) {
	gate := NewNoiseGate(50, 30*time.Millisecond, 150*time.Millisecond, 20*time.Millisecond)

	// Silence drives the envelope down within a few release windows.
	for i := 0; i < 50; i++ {
		gate.Process(frameAt(0.001, 960))
	}
	assert.Less(t, gate.Gain(), 0.05, "sustained silence closes the gate")

	// A loud frame reopens it much faster than it closed.
	loud := frameAt(0.5, 960)
	for i := 0; i < 5; i++ {
		gate.Process(loud)
	}
	assert.Greater(t, gate.Gain(), 0.9, "speech reopens within a few attack windows")
}

func TestGateTransientDipDoesNotClose(t *testing.T) {
	gate := NewNoiseGate(50, 30*time.Millisecond, 150*time.Millisecond, 20*time.Millisecond)

	loud := frameAt(0.5, 960)
	for i := 0; i < 10; i++ {
		gate.Process(loud)
	}
	opened := gate.Gain()
	assert.Greater(t, opened, 0.95)

	// One quiet frame between words barely dents the envelope.
	gate.Process(frameAt(0.001, 960))
	assert.Greater(t, gate.Gain(), 0.8, "single dip must not slam the gate shut")
}

func TestGateSensitivityZeroPinsOpen(t *testing.T) {
	gate := NewNoiseGate(0, 30*time.Millisecond, 150*time.Millisecond, 20*time.Millisecond)

	quiet := frameAt(0.0001, 960)
	for i := 0; i < 100; i++ {
		gate.Process(quiet)
	}
	assert.InDelta(t, 1.0, gate.Gain(), 0.001, "sensitivity 0 disables gating")
}

func TestGateAttenuatesSamples(t *testing.T) {
	gate := NewNoiseGate(100, 30*time.Millisecond, 150*time.Millisecond, 20*time.Millisecond)

	// Close the gate fully first.
	for i := 0; i < 100; i++ {
		gate.Process(frameAt(0.001, 960))
	}

	frame := frameAt(0.01, 960) // still below the sensitivity-100 threshold
	gate.Process(frame)
	for _, s := range frame {
		assert.LessOrEqual(t, int(s), 40, "closed gate attenuates the frame")
		assert.GreaterOrEqual(t, int(s), -40)
	}
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS([]int16{0, 0, 0}))
	assert.InDelta(t, 1.0, RMS([]int16{32767, -32767}), 0.001)
	assert.InDelta(t, 0.5, RMS(frameAt(0.5, 1000)), 0.01)
}

func TestEncodeFrameAndPayloadEnergyRoundTrip(t *testing.T) {
	frame := frameAt(0.25, 480)
	payload := EncodeFrame(frame)
	assert.Len(t, payload, 960)
	assert.InDelta(t, RMS(frame), PayloadEnergy(payload), 0.001)
}
