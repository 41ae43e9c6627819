package screenshare

import (
	"sync"

	"voicemesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Mesh is the slice of the peer mesh the coordinator drives: attaching and
// detaching screen tracks across every current peer session, renegotiating
// each as it goes.
type Mesh interface {
	InRoom() bool
	AttachScreenTracks(tracks []webrtc.TrackLocal) error
	DetachScreenTracks() error
}

// Notifier tells the relay about share lifecycle so other room members and
// the late-joiner catch-up path can react.
type Notifier interface {
	ShareStarted(hasAudio bool) error
	ShareStopped() error
}

// Capture is an acquired display source: its tracks plus the teardown that
// releases the underlying device.
type Capture struct {
	Tracks   []webrtc.TrackLocal
	HasAudio bool
	Stop     func()
}

// CaptureFactory acquires the display. Failure surfaces synchronously as a
// failed share attempt with nothing attached anywhere.
type CaptureFactory func() (*Capture, error)

// Coordinator owns the local screen share lifecycle. The feature flag is
// enforced at the relay; a disabled channel answers the started notification
// with an explicit rejection.
type Coordinator struct {
	mesh     Mesh
	notifier Notifier
	capture  CaptureFactory
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	active *Capture
}

func NewCoordinator(mesh Mesh, notifier Notifier, capture CaptureFactory, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		mesh:     mesh,
		notifier: notifier,
		capture:  capture,
		logger:   logger.Sugar(),
	}
}

// Start acquires the display, attaches its tracks to every peer session, and
// notifies the relay.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mesh.InRoom() {
		return domain.ErrNotRoomMember
	}
	if c.active != nil {
		return domain.ErrAlreadySharing
	}

	cap, err := c.capture()
	if err != nil {
		return err
	}

	if err := c.mesh.AttachScreenTracks(cap.Tracks); err != nil {
		cap.Stop()
		return err
	}
	c.active = cap

	if err := c.notifier.ShareStarted(cap.HasAudio); err != nil {
		c.logger.Warnw("share start notification failed", "error", err)
	}
	c.logger.Infow("screen share started", "has_audio", cap.HasAudio)
	return nil
}

// Stop detaches the screen tracks from every peer session and renegotiates
// each, and only then stops the underlying tracks. Stopping tracks while a
// peer still references them corrupts in-flight renegotiation and can
// silently break audio, so the detach pass must complete first. Calling Stop
// while not sharing is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cap := c.active
	c.active = nil
	c.mu.Unlock()
	if cap == nil {
		return
	}

	if err := c.mesh.DetachScreenTracks(); err != nil {
		c.logger.Warnw("screen detach incomplete", "error", err)
	}
	cap.Stop()

	if err := c.notifier.ShareStopped(); err != nil {
		c.logger.Warnw("share stop notification failed", "error", err)
	}
	c.logger.Infow("screen share stopped")
}

// OnTrackEnded handles the capture source ending on its own (for example the
// user killing the share from the OS picker); it runs the same ordered stop.
func (c *Coordinator) OnTrackEnded() {
	c.Stop()
}

// Active reports whether a local share is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
