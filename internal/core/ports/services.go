package ports

import (
	"context"

	"voicemesh/internal/core/domain"
)

// RoomService exposes the roster operations the signaling relay drives.
type RoomService interface {
	Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error)
	Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) ([]domain.VoiceParticipant, bool, error)
	IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) bool
	Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error)
	Roster(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error)
	StartShare(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error
	StopShare(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error)
	Rooms(ctx context.Context) ([]domain.RoomSummary, error)
}

// FlagService answers per-channel feature-flag questions.
type FlagService interface {
	ScreenShareEnabled(ctx context.Context, roomID domain.RoomID) bool
	SetScreenShareEnabled(ctx context.Context, roomID domain.RoomID, enabled bool) error
}

// MembershipService is the external channel-membership collaborator. The
// relay treats its answers as authoritative and never audits them.
type MembershipService interface {
	IsChannelMember(ctx context.Context, userID domain.UserID, roomID domain.RoomID) bool
}

// TokenService is the authentication collaborator: it turns a bearer token
// into a verified identity and (in self-hosted deployments) mints tokens.
type TokenService interface {
	Verify(token string) (domain.Identity, error)
	Issue(identity domain.Identity) (string, error)
}
