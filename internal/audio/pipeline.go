package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"voicemesh/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// Outbound audio is raw 16-bit PCM (L16, RFC 3551) so the gate can operate
// on samples directly; payload bytes are big-endian network order.
const (
	MimeTypeL16 = "audio/L16"
	SampleRate  = 48000
	Channels    = 1
)

// CaptureSource delivers microphone frames. ReadFrame blocks until one
// analyser interval of samples is available.
type CaptureSource interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// Pipeline turns raw capture into the processed outbound stream: the gated
// signal goes to peers while the raw signal feeds local activity detection,
// so gating cannot contaminate the detector's energy readings.
type Pipeline struct {
	source   CaptureSource
	gate     *NoiseGate
	detector *Detector
	track    *webrtc.TrackLocalStaticSample
	interval time.Duration
	logger   *zap.SugaredLogger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewPipeline(cfg *config.Config, source CaptureSource, logger *zap.Logger) (*Pipeline, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  MimeTypeL16,
		ClockRate: SampleRate,
		Channels:  Channels,
	}, "audio", "voicemesh-mic")
	if err != nil {
		return nil, fmt.Errorf("create outbound audio track: %w", err)
	}

	v := cfg.Voice
	return &Pipeline{
		source:   source,
		gate:     NewNoiseGate(v.GateSensitivity, v.GateAttack, v.GateRelease, v.GateInterval),
		detector: NewDetector(DefaultTalkThreshold, v.TalkHold),
		track:    track,
		interval: v.GateInterval,
		logger:   logger.Sugar(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Track is the processed outbound audio, attached to every peer session.
func (p *Pipeline) Track() *webrtc.TrackLocalStaticSample {
	return p.track
}

// Talking reports local speech activity from the raw, ungated signal.
func (p *Pipeline) Talking() bool {
	return p.detector.Talking()
}

// SetSensitivity adjusts the noise gate threshold live.
func (p *Pipeline) SetSensitivity(s int) {
	p.gate.SetSensitivity(s)
}

// Start launches the capture loop. Calling it twice is a no-op.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		frame, err := p.source.ReadFrame()
		if err != nil {
			p.logger.Debugw("capture ended", "error", err)
			return
		}

		p.detector.Observe(RMS(frame))
		p.gate.Process(frame)

		if err := p.track.WriteSample(media.Sample{
			Data:     EncodeFrame(frame),
			Duration: p.interval,
		}); err != nil {
			p.logger.Warnw("write audio sample", "error", err)
		}
	}
}

// Stop halts capture and releases the source. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.source.Close()
		<-p.done
	})
}

// EncodeFrame packs samples as big-endian L16 payload bytes.
func EncodeFrame(frame []int16) []byte {
	buf := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.BigEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodeFrame unpacks an L16 payload back into samples.
func DecodeFrame(payload []byte) []int16 {
	frame := make([]int16, len(payload)/2)
	for i := range frame {
		frame[i] = int16(binary.BigEndian.Uint16(payload[i*2:]))
	}
	return frame
}

// PayloadEnergy computes normalized RMS straight from an L16 RTP payload,
// used for remote activity detection without a full decode pass.
func PayloadEnergy(payload []byte) float64 {
	n := len(payload) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.BigEndian.Uint16(payload[i*2:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ToneSource generates a paced sine wave, standing in for a microphone on
// headless participants.
type ToneSource struct {
	freq      float64
	amplitude float64
	interval  time.Duration
	phase     float64
	ticker    *time.Ticker
	closeOnce sync.Once
	closed    chan struct{}
}

func NewToneSource(freq, amplitude float64, interval time.Duration) *ToneSource {
	return &ToneSource{
		freq:      freq,
		amplitude: amplitude,
		interval:  interval,
		ticker:    time.NewTicker(interval),
		closed:    make(chan struct{}),
	}
}

func (t *ToneSource) ReadFrame() ([]int16, error) {
	select {
	case <-t.closed:
		return nil, fmt.Errorf("tone source closed")
	case <-t.ticker.C:
	}

	samples := int(float64(SampleRate) * t.interval.Seconds())
	frame := make([]int16, samples)
	step := 2 * math.Pi * t.freq / SampleRate
	for i := range frame {
		frame[i] = int16(t.amplitude * float64(math.MaxInt16) * math.Sin(t.phase))
		t.phase += step
	}
	return frame, nil
}

func (t *ToneSource) Close() error {
	t.closeOnce.Do(func() {
		t.ticker.Stop()
		close(t.closed)
	})
	return nil
}
