package domain

import "time"

type RoomID string
type UserID string
type ConnectionID string

// VoiceParticipant is one user registered in a voice room. ConnectionID
// identifies the signaling connection currently on record; a reconnecting
// user keeps a single roster entry and only the connection id changes.
type VoiceParticipant struct {
	ID           UserID
	DisplayName  string
	ConnectionID ConnectionID
	JoinedAt     time.Time
}

// ScreenSharer is a participant currently sharing a screen in a room.
type ScreenSharer struct {
	UserID   UserID
	HasAudio bool
}

// VoiceRoom holds the authoritative roster for one channel's voice session.
// A room is created on first join and destroyed implicitly when empty.
type VoiceRoom struct {
	ID           RoomID
	Participants map[UserID]*VoiceParticipant
	Sharers      map[UserID]*ScreenSharer
	CreatedAt    time.Time
}

func NewVoiceRoom(id RoomID) *VoiceRoom {
	return &VoiceRoom{
		ID:           id,
		Participants: make(map[UserID]*VoiceParticipant),
		Sharers:      make(map[UserID]*ScreenSharer),
		CreatedAt:    time.Now(),
	}
}

// RoomSummary is the lightweight view consumed by the rooms API and the
// room_count broadcast.
type RoomSummary struct {
	ID           RoomID
	Participants int
	Sharers      int
}

// Identity is the verified {userId, displayName} pair supplied by the
// authentication collaborator for each signaling connection.
type Identity struct {
	UserID      UserID
	DisplayName string
}
