package services

import (
	"context"
	"errors"
	"fmt"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/validation"

	"go.uber.org/zap"
)

type roomService struct {
	rooms       ports.RoomRepository
	flags       ports.FlagService
	maxRoomSize int
	logger      *zap.SugaredLogger
}

// NewRoomService builds the roster service the signaling relay drives.
// maxRoomSize caps participants per room; full-mesh connection count grows
// quadratically, so the cap keeps per-client session fan-out bounded.
func NewRoomService(rooms ports.RoomRepository, flags ports.FlagService, maxRoomSize int, logger *zap.Logger) ports.RoomService {
	return &roomService{
		rooms:       rooms,
		flags:       flags,
		maxRoomSize: maxRoomSize,
		logger:      logger.Sugar(),
	}
}

func (s *roomService) Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error) {
	if err := validation.ValidateRoomCode(string(roomID)); err != nil {
		return nil, fmt.Errorf("invalid room: %w", err)
	}
	if err := validation.ValidateDisplayName(p.DisplayName); err != nil {
		return nil, fmt.Errorf("invalid participant: %w", err)
	}

	existing, err := s.rooms.Participants(ctx, roomID)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, err
	}
	// A reconnect replaces the existing entry, so only genuinely new
	// participants count against the cap.
	if len(existing) >= s.maxRoomSize && !containsUser(existing, p.ID) {
		return nil, domain.ErrRoomFull
	}

	snapshot, err := s.rooms.Join(ctx, roomID, p)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("participant joined voice room",
		"room_id", roomID, "user_id", p.ID, "existing", len(snapshot))
	return snapshot, nil
}

func (s *roomService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) ([]domain.VoiceParticipant, bool, error) {
	// Sharer-set membership never outlives roster membership.
	if err := s.rooms.ClearSharer(ctx, roomID, userID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, false, err
	}

	remaining, left, err := s.rooms.Leave(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if left {
		s.logger.Infow("participant left voice room",
			"room_id", roomID, "user_id", userID, "remaining", len(remaining))
	}
	return remaining, left, nil
}

func (s *roomService) IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) bool {
	_, err := s.rooms.Participant(ctx, roomID, userID)
	return err == nil
}

func (s *roomService) Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error) {
	return s.rooms.Participant(ctx, roomID, userID)
}

func (s *roomService) Roster(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error) {
	return s.rooms.Participants(ctx, roomID)
}

func (s *roomService) StartShare(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error {
	if !s.flags.ScreenShareEnabled(ctx, roomID) {
		return domain.ErrScreenShareDisabled
	}
	if !s.IsMember(ctx, roomID, userID) {
		return domain.ErrNotRoomMember
	}

	sharers, err := s.rooms.Sharers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, sh := range sharers {
		if sh.UserID == userID {
			return domain.ErrAlreadySharing
		}
	}

	if err := s.rooms.SetSharer(ctx, roomID, userID, hasAudio); err != nil {
		return err
	}
	s.logger.Infow("screen share started", "room_id", roomID, "user_id", userID, "has_audio", hasAudio)
	return nil
}

func (s *roomService) StopShare(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if !s.IsMember(ctx, roomID, userID) {
		return domain.ErrNotRoomMember
	}
	if err := s.rooms.ClearSharer(ctx, roomID, userID); err != nil {
		return err
	}
	s.logger.Infow("screen share stopped", "room_id", roomID, "user_id", userID)
	return nil
}

func (s *roomService) Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error) {
	return s.rooms.Sharers(ctx, roomID)
}

func (s *roomService) Rooms(ctx context.Context) ([]domain.RoomSummary, error) {
	return s.rooms.Rooms(ctx)
}

func containsUser(list []domain.VoiceParticipant, id domain.UserID) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}
