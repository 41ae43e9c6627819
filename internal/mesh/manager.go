package mesh

import (
	"encoding/json"
	"fmt"
	"sync"

	"voicemesh/internal/audio"
	"voicemesh/internal/core/domain"
	"voicemesh/internal/infrastructure/signal"
	"voicemesh/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PlaybackSink receives decoded, gain-adjusted remote audio frames.
type PlaybackSink interface {
	WriteFrame(userID domain.UserID, frame []int16)
}

// MicFactory acquires the microphone. Failure surfaces synchronously as a
// failed join with no partial session created.
type MicFactory func() (audio.CaptureSource, error)

// Manager owns one Session per remote participant in the current voice room.
// A participant is in at most one room at a time; joining another room leaves
// the current one completely first.
type Manager struct {
	cfg      *config.Config
	signaler Signaler
	newPC    PeerConnFactory
	mic      MicFactory
	gains    *audio.GainRegistry
	tracker  *audio.Tracker
	baseLog  *zap.Logger
	logger   *zap.SugaredLogger

	// optional collaborators, set before Join
	sink           PlaybackSink
	shareStopper   func()
	onPeerGone     func(domain.UserID)
	onRemoteScreen func(domain.UserID, *webrtc.TrackRemote)

	mu            sync.Mutex
	room          domain.RoomID
	pipeline      *audio.Pipeline
	sessions      map[domain.UserID]*Session
	shareTracks   []webrtc.TrackLocal
	remoteSharers map[domain.UserID]bool
}

func NewManager(
	cfg *config.Config,
	signaler Signaler,
	newPC PeerConnFactory,
	mic MicFactory,
	gains *audio.GainRegistry,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:           cfg,
		signaler:      signaler,
		newPC:         newPC,
		mic:           mic,
		gains:         gains,
		tracker:       audio.NewTracker(audio.DefaultTalkThreshold, cfg.Voice.TalkHold, nil),
		baseLog:       logger,
		logger:        logger.Sugar(),
		sessions:      make(map[domain.UserID]*Session),
		remoteSharers: make(map[domain.UserID]bool),
	}
}

// SetPlaybackSink routes decoded remote audio somewhere audible.
func (m *Manager) SetPlaybackSink(sink PlaybackSink) { m.sink = sink }

// SetShareStopper registers the screen share teardown hook, invoked before
// anything else during leave.
func (m *Manager) SetShareStopper(stop func()) { m.shareStopper = stop }

// OnPeerGone registers the callback fired when a session is terminally lost.
func (m *Manager) OnPeerGone(f func(domain.UserID)) { m.onPeerGone = f }

// OnRemoteScreen registers the handler for incoming screen video tracks.
func (m *Manager) OnRemoteScreen(f func(domain.UserID, *webrtc.TrackRemote)) { m.onRemoteScreen = f }

// Join acquires the microphone, builds the processed outbound stream, and
// announces the participant to the relay. The roster reply drives session
// creation via HandleEvent.
func (m *Manager) Join(roomID domain.RoomID) error {
	m.mu.Lock()
	same := m.room == roomID
	m.mu.Unlock()
	if same {
		return nil
	}
	m.Leave()

	source, err := m.mic()
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}
	pipeline, err := audio.NewPipeline(m.cfg, source, m.baseLog)
	if err != nil {
		source.Close()
		return fmt.Errorf("build audio pipeline: %w", err)
	}
	pipeline.Start()

	m.mu.Lock()
	m.room = roomID
	m.pipeline = pipeline
	m.mu.Unlock()

	if err := m.signaler.Join(string(roomID)); err != nil {
		m.Leave()
		return fmt.Errorf("signal join: %w", err)
	}
	m.logger.Infow("joined voice room", "room", roomID)
	return nil
}

// Leave tears the whole room state down: active share first, then the audio
// pipeline, then every peer session with its registry entries, then the relay
// notification. Calling it outside a room is a no-op.
func (m *Manager) Leave() {
	m.mu.Lock()
	room := m.room
	m.mu.Unlock()
	if room == "" {
		return
	}

	if m.shareStopper != nil {
		m.shareStopper()
	}

	m.mu.Lock()
	pipeline := m.pipeline
	sessions := m.sessions
	m.pipeline = nil
	m.sessions = make(map[domain.UserID]*Session)
	m.shareTracks = nil
	m.remoteSharers = make(map[domain.UserID]bool)
	m.room = ""
	m.mu.Unlock()

	if pipeline != nil {
		pipeline.Stop()
	}
	for id, s := range sessions {
		s.Close()
		m.tracker.Remove(id)
	}
	m.tracker.Reset()

	if err := m.signaler.Leave(string(room)); err != nil {
		m.logger.Debugw("leave signal failed", "error", err)
	}
	m.logger.Infow("left voice room", "room", room)
}

// InRoom reports whether the participant currently holds a voice room.
func (m *Manager) InRoom() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room != ""
}

// Room returns the current voice room, empty when not joined.
func (m *Manager) Room() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// HandleEvent dispatches one relay envelope. Unknown or unparsable events
// are dropped; nothing in here may take the process down.
func (m *Manager) HandleEvent(env signal.Envelope) {
	switch env.Type {
	case signal.TypeExistingUsers:
		var payload signal.ExistingUsersPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		// The newcomer initiates toward everyone already present.
		for _, u := range payload.Users {
			m.ensureSession(domain.UserID(u.ID), true)
		}

	case signal.TypeUserJoined:
		var u signal.UserInfo
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			return
		}
		// Eagerly build the answering side so the newcomer's offer lands on
		// a ready session.
		m.ensureSession(domain.UserID(u.ID), false)

	case signal.TypeUserLeft:
		var u signal.UserInfo
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			return
		}
		m.RemoveSession(domain.UserID(u.ID))

	case signal.TypeOffer:
		s := m.ensureSession(domain.UserID(env.From), false)
		if s == nil {
			return
		}
		if err := s.HandleOffer(env.Payload); err != nil {
			m.logger.Warnw("offer handling failed", "peer", env.From, "error", err)
		}

	case signal.TypeAnswer:
		s := m.session(domain.UserID(env.From))
		if s == nil {
			return
		}
		if err := s.HandleAnswer(env.Payload); err != nil {
			m.logger.Warnw("answer handling failed", "peer", env.From, "error", err)
		}

	case signal.TypeICECandidate:
		s := m.ensureSession(domain.UserID(env.From), false)
		if s == nil {
			return
		}
		if err := s.HandleCandidate(env.Payload); err != nil {
			m.logger.Debugw("candidate handling failed", "peer", env.From, "error", err)
		}

	case signal.TypeRenegotiateScreen:
		// The relay asks this sharer to push one extra offer toward a late
		// joiner so they receive the screen tracks.
		s := m.session(domain.UserID(env.Target))
		if s == nil {
			return
		}
		if err := s.Renegotiate(); err != nil {
			m.logger.Warnw("catch-up renegotiation failed", "peer", env.Target, "error", err)
		}

	case signal.TypeActiveScreenSharers:
		var payload signal.ActiveScreenSharersPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		m.mu.Lock()
		for _, sh := range payload.Sharers {
			m.remoteSharers[domain.UserID(sh.ID)] = sh.HasAudio
		}
		m.mu.Unlock()

	case signal.TypeScreenShareStarted:
		var payload signal.ScreenSharePayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return
			}
		}
		m.mu.Lock()
		m.remoteSharers[domain.UserID(env.From)] = payload.HasAudio
		m.mu.Unlock()

	case signal.TypeScreenShareStopped:
		m.mu.Lock()
		delete(m.remoteSharers, domain.UserID(env.From))
		m.mu.Unlock()

	case signal.TypeError:
		var payload signal.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		m.logger.Warnw("relay rejected request", "code", payload.Code, "reason", payload.Reason)
		// A rejected share means the relay never broadcast it: the local
		// capture must not keep streaming to peers.
		if payload.Code == signal.RejectCodeShare && m.shareStopper != nil {
			m.shareStopper()
		}
	}
}

// ensureSession returns the session toward a peer, creating it on demand.
func (m *Manager) ensureSession(userID domain.UserID, initiator bool) *Session {
	m.mu.Lock()
	if m.room == "" {
		m.mu.Unlock()
		return nil
	}
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return existing
	}
	pipeline := m.pipeline
	shareTracks := m.shareTracks
	m.mu.Unlock()

	pc, err := m.newPC()
	if err != nil {
		m.logger.Errorw("peer connection creation failed", "peer", userID, "error", err)
		return nil
	}

	// The non-initiator answers; it is also the polite side on glare.
	s := newSession(userID, pc, m.signaler, !initiator, m.cfg.WebRTC.DisconnectedGrace, m.handleTerminal, m.baseLog)
	pc.OnTrack(m.remoteTrackHandler(userID))

	if pipeline != nil {
		if err := s.AttachAudio(pipeline.Track()); err != nil {
			m.logger.Warnw("audio attach failed", "peer", userID, "error", err)
		}
	}
	if len(shareTracks) > 0 {
		if err := s.addScreenTracks(shareTracks); err != nil {
			m.logger.Warnw("screen attach failed", "peer", userID, "error", err)
		}
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		s.Close()
		return existing
	}
	m.sessions[userID] = s
	m.mu.Unlock()

	if initiator {
		if err := s.Offer(); err != nil {
			m.logger.Warnw("initial offer failed", "peer", userID, "error", err)
		}
	}
	return s
}

func (m *Manager) session(userID domain.UserID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// RemoveSession closes a peer's session and drops every registry entry keyed
// by that user in one operation, so no half-removed state can exist.
func (m *Manager) RemoveSession(userID domain.UserID) {
	m.mu.Lock()
	s := m.sessions[userID]
	delete(m.sessions, userID)
	delete(m.remoteSharers, userID)
	m.mu.Unlock()

	if s != nil {
		s.Close()
	}
	m.tracker.Remove(userID)
}

func (m *Manager) handleTerminal(userID domain.UserID) {
	m.logger.Warnw("peer session lost", "peer", userID)
	m.RemoveSession(userID)
	if m.onPeerGone != nil {
		m.onPeerGone(userID)
	}
}

// Sessions lists peers with an active session, for diagnostics and tests.
func (m *Manager) Sessions() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// RemoteSharers reports who in the room is currently sharing a screen.
func (m *Manager) RemoteSharers() map[domain.UserID]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]bool, len(m.remoteSharers))
	for id, hasAudio := range m.remoteSharers {
		out[id] = hasAudio
	}
	return out
}

// Talking reports speech activity for a remote participant.
func (m *Manager) Talking(userID domain.UserID) bool {
	return m.tracker.Talking(userID)
}

// SelfTalking reports local speech activity from the raw microphone signal.
func (m *Manager) SelfTalking() bool {
	m.mu.Lock()
	pipeline := m.pipeline
	m.mu.Unlock()
	return pipeline != nil && pipeline.Talking()
}

// SetGain stores and persists a remote participant's output gain (0-200%).
func (m *Manager) SetGain(userID domain.UserID, percent int) error {
	return m.gains.Set(userID, percent)
}

// AttachScreenTracks adds screen tracks to every current session and
// renegotiates each; sessions created later pick them up at creation.
func (m *Manager) AttachScreenTracks(tracks []webrtc.TrackLocal) error {
	m.mu.Lock()
	m.shareTracks = tracks
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.AttachScreen(tracks); err != nil {
			return err
		}
	}
	return nil
}

// DetachScreenTracks removes the screen tracks from every session and
// renegotiates each. The caller stops the tracks only after this returns.
func (m *Manager) DetachScreenTracks() error {
	m.mu.Lock()
	m.shareTracks = nil
	sessions := m.snapshotLocked()
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.DetachScreen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) snapshotLocked() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// remoteTrackHandler routes incoming media: audio feeds activity detection
// and the playback sink, video goes to the screen share handler. RTCP on the
// receiver is drained so reports keep flowing.
func (m *Manager) remoteTrackHandler(userID domain.UserID) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track started",
			"peer", userID,
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		go m.drainRTCP(userID, receiver)

		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go m.readRemoteAudio(userID, track)
			return
		}
		if m.onRemoteScreen != nil {
			m.onRemoteScreen(userID, track)
			return
		}
		go discardTrack(track)
	}
}

func (m *Manager) readRemoteAudio(userID domain.UserID, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		m.tracker.Observe(userID, audio.PayloadEnergy(pkt.Payload))

		if m.sink != nil {
			frame := audio.DecodeFrame(pkt.Payload)
			m.gains.Apply(userID, frame)
			m.sink.WriteFrame(userID, frame)
		}
	}
}

// drainRTCP consumes receiver reports, surfacing heavy loss in the logs.
func (m *Manager) drainRTCP(userID domain.UserID, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			rr, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				if report.FractionLost > 64 { // >25% loss
					m.logger.Warnw("heavy packet loss on peer link",
						"peer", userID,
						"fraction_lost", report.FractionLost,
						"jitter", report.Jitter,
					)
				}
			}
		}
	}
}

func discardTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
