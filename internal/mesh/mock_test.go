package mesh

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v3"
)

// mockPeerConn drives the negotiation state machine without real transports.
type mockPeerConn struct {
	mu             sync.Mutex
	signalingState webrtc.SignalingState
	localDesc      *webrtc.SessionDescription
	remoteDesc     *webrtc.SessionDescription
	candidates     []webrtc.ICECandidateInit
	rollbacks      int
	restartOffers  int
	removedTracks  int
	addedTracks    int
	offerErr       error
	closed         bool

	onICE       func(*webrtc.ICECandidate)
	onConnState func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func newMockPeerConn() *mockPeerConn {
	return &mockPeerConn{signalingState: webrtc.SignalingStateStable}
}

func (m *mockPeerConn) SignalingState() webrtc.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signalingState
}

func (m *mockPeerConn) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}

func (m *mockPeerConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offerErr != nil {
		return webrtc.SessionDescription{}, m.offerErr
	}
	if options != nil && options.ICERestart {
		m.restartOffers++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "mock-offer-sdp"}, nil
}

func (m *mockPeerConn) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "mock-answer-sdp"}, nil
}

func (m *mockPeerConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeRollback:
		m.rollbacks++
		m.localDesc = nil
		m.signalingState = webrtc.SignalingStateStable
	case webrtc.SDPTypeOffer:
		m.localDesc = &desc
		m.signalingState = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		m.localDesc = &desc
		m.signalingState = webrtc.SignalingStateStable
	}
	return nil
}

func (m *mockPeerConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDesc = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		m.signalingState = webrtc.SignalingStateHaveRemoteOffer
	} else {
		m.signalingState = webrtc.SignalingStateStable
	}
	return nil
}

func (m *mockPeerConn) LocalDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localDesc
}

func (m *mockPeerConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *mockPeerConn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addedTracks++
	return &webrtc.RTPSender{}, nil
}

func (m *mockPeerConn) RemoveTrack(sender *webrtc.RTPSender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedTracks++
	return nil
}

func (m *mockPeerConn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { m.onTrack = f }
func (m *mockPeerConn) OnICECandidate(f func(*webrtc.ICECandidate))              { m.onICE = f }
func (m *mockPeerConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	m.onConnState = f
}

func (m *mockPeerConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockPeerConn) stateCounts() (rollbacks, restartOffers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks, m.restartOffers
}

type sentMessage struct {
	target  string
	payload json.RawMessage
}

// mockSignaler records everything the mesh sends toward the relay.
type mockSignaler struct {
	mu         sync.Mutex
	joins      []string
	leaves     []string
	offers     []sentMessage
	answers    []sentMessage
	candidates []sentMessage
	shares     []bool
	shareStops int
	// events records join/leave ordering for the single-room invariant.
	events []string
}

func (s *mockSignaler) Join(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, room)
	s.events = append(s.events, "join:"+room)
	return nil
}

func (s *mockSignaler) Leave(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves = append(s.leaves, room)
	s.events = append(s.events, "leave:"+room)
	return nil
}

func (s *mockSignaler) SendOffer(target string, sdp json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sentMessage{target, sdp})
	return nil
}

func (s *mockSignaler) SendAnswer(target string, sdp json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sentMessage{target, sdp})
	return nil
}

func (s *mockSignaler) SendCandidate(target string, candidate json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, sentMessage{target, candidate})
	return nil
}

func (s *mockSignaler) ShareStarted(hasAudio bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares = append(s.shares, hasAudio)
	return nil
}

func (s *mockSignaler) ShareStopped() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shareStops++
	return nil
}

func (s *mockSignaler) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func (s *mockSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
