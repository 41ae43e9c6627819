package signal

import "encoding/json"

// Message types sent by participants.
const (
	TypeJoin               = "join"
	TypeLeave              = "leave"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice_candidate"
	TypeScreenShareStarted = "screen_share_started"
	TypeScreenShareStopped = "screen_share_stopped"
)

// Message types sent by the relay.
const (
	TypeExistingUsers        = "existing_users"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeActiveScreenSharers  = "active_screen_sharers"
	TypeRenegotiateScreen    = "renegotiate_screen"
	TypeRoomRosterUpdate     = "room_roster_update"
	TypeRoomCount            = "room_count"
	TypeError                = "error"
)

// Envelope is the wire frame for every signaling message. Offer, answer and
// candidate payloads are opaque to the relay: it forwards Payload untouched.
type Envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserInfo identifies a participant on the wire.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SharerInfo identifies an active screen sharer.
type SharerInfo struct {
	ID       string `json:"id"`
	HasAudio bool   `json:"has_audio"`
}

type ExistingUsersPayload struct {
	Users []UserInfo `json:"users"`
}

type ActiveScreenSharersPayload struct {
	Sharers []SharerInfo `json:"sharers"`
}

type ScreenSharePayload struct {
	HasAudio bool `json:"has_audio"`
}

type RoomRosterPayload struct {
	Users []UserInfo `json:"users"`
}

type RoomCountPayload struct {
	Count int `json:"count"`
}

// Rejection codes carried in ErrorPayload so clients can react to the class
// of failure without matching on human-readable reasons.
const (
	RejectCodeJoin  = "join_rejected"
	RejectCodeShare = "share_rejected"
)

type ErrorPayload struct {
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
