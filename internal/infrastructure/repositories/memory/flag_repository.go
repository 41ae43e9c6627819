package memory

import (
	"context"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

// FlagRepository keeps per-channel feature flags in memory. Channels without
// an explicit setting use the default.
type FlagRepository struct {
	mu          sync.RWMutex
	screenShare map[domain.RoomID]bool
	defaultOn   bool
}

func NewFlagRepository(defaultOn bool) *FlagRepository {
	return &FlagRepository{
		screenShare: make(map[domain.RoomID]bool),
		defaultOn:   defaultOn,
	}
}

func (r *FlagRepository) ScreenShareEnabled(ctx context.Context, roomID domain.RoomID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if enabled, ok := r.screenShare[roomID]; ok {
		return enabled, nil
	}
	return r.defaultOn, nil
}

func (r *FlagRepository) SetScreenShareEnabled(ctx context.Context, roomID domain.RoomID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screenShare[roomID] = enabled
	return nil
}

var _ ports.FlagRepository = (*FlagRepository)(nil)
