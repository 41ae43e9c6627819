package mesh

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"voicemesh/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Session is the negotiation state machine toward one remote participant.
//
// Initiator assignment happens once, at discovery: the newcomer offers first.
// Glare on later renegotiations is resolved by politeness, fixed at creation:
// the polite side rolls back its own outstanding offer and answers the remote
// one, the impolite side ignores the colliding offer and waits for the answer
// to its own. An answer arriving when no local offer is outstanding answers a
// now-void offer and is discarded.
type Session struct {
	userID   domain.UserID
	pc       PeerConn
	signaler Signaler
	polite   bool
	grace    time.Duration
	logger   *zap.SugaredLogger

	// onTerminal fires when recovery is exhausted and the session must be
	// removed by its owner.
	onTerminal func(domain.UserID)

	mu             sync.Mutex
	awaitingAnswer bool
	remoteSet      bool
	pending        []webrtc.ICECandidateInit
	graceTimer     *time.Timer
	closed         bool

	audioSender   *webrtc.RTPSender
	screenSenders []*webrtc.RTPSender
}

func newSession(
	userID domain.UserID,
	pc PeerConn,
	signaler Signaler,
	polite bool,
	grace time.Duration,
	onTerminal func(domain.UserID),
	logger *zap.Logger,
) *Session {
	s := &Session{
		userID:     userID,
		pc:         pc,
		signaler:   signaler,
		polite:     polite,
		grace:      grace,
		onTerminal: onTerminal,
		logger:     logger.Sugar().With("peer", userID),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := s.signaler.SendCandidate(string(userID), payload); err != nil {
			s.logger.Debugw("candidate send failed", "error", err)
		}
	})
	pc.OnConnectionStateChange(s.handleConnectionState)

	return s
}

// Offer produces and sends a fresh offer toward the peer.
func (s *Session) Offer() error {
	return s.sendOffer(false)
}

// Renegotiate pushes an additional offer over the established session, used
// when tracks were added or removed or a late joiner needs the video track.
func (s *Session) Renegotiate() error {
	return s.sendOffer(false)
}

func (s *Session) sendOffer(iceRestart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	s.awaitingAnswer = true

	payload, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	return s.signaler.SendOffer(string(s.userID), payload)
}

// HandleOffer applies a remote offer and replies with an answer, rolling back
// a colliding local offer first when this side is the polite one.
func (s *Session) HandleOffer(payload json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	collision := s.awaitingAnswer || s.pc.SignalingState() != webrtc.SignalingStateStable
	if collision {
		if !s.polite {
			s.logger.Debugw("ignoring colliding offer, ours is outstanding")
			return nil
		}
		if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		s.awaitingAnswer = false
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	s.remoteSet = true
	s.flushCandidatesLocked()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	encoded, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	return s.signaler.SendAnswer(string(s.userID), encoded)
}

// HandleAnswer applies a remote answer to the outstanding local offer.
// Answers with no offer outstanding answer something already rolled back and
// are dropped without touching the negotiation in progress.
func (s *Session) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !s.awaitingAnswer {
		s.logger.Debugw("discarding stale answer")
		return nil
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	s.awaitingAnswer = false
	s.remoteSet = true
	s.flushCandidatesLocked()
	return nil
}

// HandleCandidate adds a remote candidate, buffering it if it raced ahead of
// the session description it belongs to.
func (s *Session) HandleCandidate(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		return nil
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *Session) flushCandidatesLocked() {
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Debugw("buffered candidate rejected", "error", err)
		}
	}
	s.pending = nil
}

// handleConnectionState drives recovery. Failed restarts immediately;
// disconnected is frequently transient, so it gets a grace window first and
// reconnecting within it cancels the restart entirely.
func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.cancelGraceLocked()
		s.mu.Unlock()
		s.logger.Debugw("peer connected")

	case webrtc.PeerConnectionStateDisconnected:
		if s.graceTimer == nil {
			s.graceTimer = time.AfterFunc(s.grace, s.restart)
		}
		s.mu.Unlock()
		s.logger.Infow("peer disconnected, grace timer started", "grace", s.grace)

	case webrtc.PeerConnectionStateFailed:
		s.cancelGraceLocked()
		s.mu.Unlock()
		s.logger.Warnw("peer failed, attempting ice restart")
		s.restart()

	default:
		s.mu.Unlock()
	}
}

func (s *Session) cancelGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

func (s *Session) restart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	s.mu.Unlock()

	if err := s.sendOffer(true); err != nil {
		s.logger.Warnw("ice restart failed, removing session", "error", err)
		if s.onTerminal != nil {
			s.onTerminal(s.userID)
		}
	}
}

// AttachAudio adds the processed outbound audio track.
func (s *Session) AttachAudio(track webrtc.TrackLocal) error {
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	s.mu.Lock()
	s.audioSender = sender
	s.mu.Unlock()
	return nil
}

// AttachScreen adds screen tracks and renegotiates so the peer learns about
// them.
func (s *Session) AttachScreen(tracks []webrtc.TrackLocal) error {
	if err := s.addScreenTracks(tracks); err != nil {
		return err
	}
	return s.Renegotiate()
}

// addScreenTracks attaches without renegotiating, for sessions created while
// a share is already running: the initial offer covers the tracks.
func (s *Session) addScreenTracks(tracks []webrtc.TrackLocal) error {
	senders := make([]*webrtc.RTPSender, 0, len(tracks))
	for _, track := range tracks {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add screen track: %w", err)
		}
		senders = append(senders, sender)
	}
	s.mu.Lock()
	s.screenSenders = append(s.screenSenders, senders...)
	s.mu.Unlock()
	return nil
}

// DetachScreen removes the screen tracks from this session and renegotiates.
// The tracks themselves stay alive; the owner stops them only after every
// session has detached.
func (s *Session) DetachScreen() error {
	s.mu.Lock()
	senders := s.screenSenders
	s.screenSenders = nil
	s.mu.Unlock()

	for _, sender := range senders {
		if err := s.pc.RemoveTrack(sender); err != nil {
			s.logger.Debugw("remove screen track", "error", err)
		}
	}
	if len(senders) == 0 {
		return nil
	}
	return s.Renegotiate()
}

// Sharing reports whether screen tracks are currently attached.
func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.screenSenders) > 0
}

// Close tears the session down and cancels any pending recovery. Safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelGraceLocked()
	s.pending = nil
	s.mu.Unlock()

	return s.pc.Close()
}
