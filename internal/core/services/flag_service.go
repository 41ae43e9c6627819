package services

import (
	"context"
	"fmt"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/cache"

	"go.uber.org/zap"
)

type flagService struct {
	repo   ports.FlagRepository
	cache  *cache.Cache
	logger *zap.SugaredLogger
}

// NewFlagService answers feature-flag questions with a short-lived cache in
// front of the flag store. Flag reads happen on every screen-share request,
// the store may be remote (Redis).
func NewFlagService(repo ports.FlagRepository, ttl time.Duration, logger *zap.Logger) ports.FlagService {
	return &flagService{
		repo:   repo,
		cache:  cache.New(ttl),
		logger: logger.Sugar(),
	}
}

func (s *flagService) ScreenShareEnabled(ctx context.Context, roomID domain.RoomID) bool {
	key := screenShareKey(roomID)
	if v, ok := s.cache.Get(key); ok {
		return v.(bool)
	}

	enabled, err := s.repo.ScreenShareEnabled(ctx, roomID)
	if err != nil {
		// Fail closed: a broken flag store must not open screen sharing on
		// channels where it was disabled.
		s.logger.Warnw("flag lookup failed, denying screen share", "room_id", roomID, "error", err)
		return false
	}

	s.cache.Set(key, enabled)
	return enabled
}

func (s *flagService) SetScreenShareEnabled(ctx context.Context, roomID domain.RoomID, enabled bool) error {
	if err := s.repo.SetScreenShareEnabled(ctx, roomID, enabled); err != nil {
		return err
	}
	s.cache.Delete(screenShareKey(roomID))
	return nil
}

func screenShareKey(roomID domain.RoomID) string {
	return fmt.Sprintf("flag:screen_share:%s", roomID)
}
