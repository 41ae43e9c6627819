package audio

import (
	"math"
	"sync"
	"time"
)

// thresholdCeiling is the normalized RMS that sensitivity 100 maps to.
// Typical speech at a sane input level sits around 0.05-0.3 full scale.
const thresholdCeiling = 0.2

// NoiseGate attenuates sub-threshold microphone frames. The gain envelope
// ramps toward open with the attack time constant and toward closed with the
// slower release constant, so a single transient dip does not cut a word off.
type NoiseGate struct {
	mu sync.Mutex

	sensitivity  int // 0-100, 0 pins the gate open
	attackCoeff  float64
	releaseCoeff float64
	gain         float64
}

// NewNoiseGate builds a gate for frames arriving every interval. Attack and
// release are the time constants for opening and closing respectively.
func NewNoiseGate(sensitivity int, attack, release, interval time.Duration) *NoiseGate {
	return &NoiseGate{
		sensitivity:  clampSensitivity(sensitivity),
		attackCoeff:  stepCoeff(interval, attack),
		releaseCoeff: stepCoeff(interval, release),
		gain:         1.0,
	}
}

// stepCoeff converts a time constant into a per-frame smoothing factor.
func stepCoeff(interval, timeConstant time.Duration) float64 {
	if timeConstant <= 0 {
		return 1.0
	}
	return 1.0 - math.Exp(-float64(interval)/float64(timeConstant))
}

func clampSensitivity(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// SetSensitivity adjusts the threshold live. Zero disables gating.
func (g *NoiseGate) SetSensitivity(s int) {
	g.mu.Lock()
	g.sensitivity = clampSensitivity(s)
	g.mu.Unlock()
}

// Gain reports the current envelope value in [0, 1].
func (g *NoiseGate) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

// Process updates the envelope from the frame's energy and scales the frame
// in place. It returns the envelope value applied.
func (g *NoiseGate) Process(frame []int16) float64 {
	energy := RMS(frame)

	g.mu.Lock()
	target := 0.0
	if g.sensitivity == 0 || energy >= g.threshold() {
		target = 1.0
	}
	coeff := g.releaseCoeff
	if target > g.gain {
		coeff = g.attackCoeff
	}
	g.gain += coeff * (target - g.gain)
	gain := g.gain
	g.mu.Unlock()

	if gain < 0.999 {
		for i, s := range frame {
			frame[i] = int16(float64(s) * gain)
		}
	}
	return gain
}

func (g *NoiseGate) threshold() float64 {
	return float64(g.sensitivity) / 100.0 * thresholdCeiling
}

// RMS returns the root-mean-square energy of a frame, normalized so that a
// full-scale signal reads 1.0.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
