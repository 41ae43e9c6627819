package ports

import (
	"context"

	"voicemesh/internal/core/domain"
)

// RoomRepository is the authoritative voice-room registry. Backends must keep
// the (room, user) uniqueness invariant: Join replaces the connection id of an
// existing entry instead of duplicating it.
type RoomRepository interface {
	// Join registers the participant, creating the room if needed. It returns
	// the roster as it was before the join, excluding the caller.
	Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error)

	// Leave removes the user and returns the remaining roster. left is false
	// when the user was not a member; empty rooms are destroyed.
	Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (remaining []domain.VoiceParticipant, left bool, err error)

	// Participant looks up a single roster entry.
	Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error)

	// Participants returns the current roster.
	Participants(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error)

	// SetSharer marks the user as an active screen sharer.
	SetSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error

	// ClearSharer removes the user from the sharer set. Clearing a user who is
	// not sharing is a no-op.
	ClearSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error

	// Sharers returns the active screen sharers of the room.
	Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error)

	// Rooms lists summaries of all live rooms.
	Rooms(ctx context.Context) ([]domain.RoomSummary, error)
}

// FlagRepository stores per-channel feature flags.
type FlagRepository interface {
	ScreenShareEnabled(ctx context.Context, roomID domain.RoomID) (bool, error)
	SetScreenShareEnabled(ctx context.Context, roomID domain.RoomID, enabled bool) error
}
