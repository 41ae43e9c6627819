package mesh

import (
	"fmt"

	"voicemesh/internal/audio"
	"voicemesh/pkg/config"

	"github.com/pion/webrtc/v3"
)

// PeerConn is the slice of *webrtc.PeerConnection the mesh drives. Sessions
// are exercised against this interface so negotiation logic is testable
// without real transports.
type PeerConn interface {
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// PeerConnFactory builds one connection per remote participant.
type PeerConnFactory func() (PeerConn, error)

// l16PayloadType is a dynamic payload type for raw PCM audio.
const l16PayloadType = 96

// NewPeerConnFactory builds real pion connections with the configured ICE
// servers and an L16 audio codec so the gated PCM stream travels unencoded.
func NewPeerConnFactory(cfg *config.Config) PeerConnFactory {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		iceServers = append(iceServers, server)
	}

	return func() (PeerConn, error) {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  audio.MimeTypeL16,
				ClockRate: audio.SampleRate,
				Channels:  audio.Channels,
			},
			PayloadType: l16PayloadType,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register L16 codec: %w", err)
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
			PayloadType: 97,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register VP8 codec: %w", err)
		}

		api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
		return api.NewPeerConnection(webrtc.Configuration{
			ICEServers:   iceServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
		})
	}
}
