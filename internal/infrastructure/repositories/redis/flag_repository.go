package redis

import (
	"context"
	"fmt"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// FlagRepository stores per-channel feature flags in Redis so flag changes
// made by the surrounding chat application are visible to every relay node.
type FlagRepository struct {
	client    *redis.Client
	prefix    string
	defaultOn bool
}

func NewFlagRepository(client *redis.Client, defaultOn bool) ports.FlagRepository {
	return &FlagRepository{client: client, prefix: "voicemesh", defaultOn: defaultOn}
}

func (r *FlagRepository) key(roomID domain.RoomID) string {
	return fmt.Sprintf("%s:flags:%s:screen_share", r.prefix, roomID)
}

func (r *FlagRepository) ScreenShareEnabled(ctx context.Context, roomID domain.RoomID) (bool, error) {
	val, err := r.client.Get(ctx, r.key(roomID)).Result()
	if err == redis.Nil {
		return r.defaultOn, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read screen share flag: %w", err)
	}
	return val == "1", nil
}

func (r *FlagRepository) SetScreenShareEnabled(ctx context.Context, roomID domain.RoomID, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := r.client.Set(ctx, r.key(roomID), val, 0).Err(); err != nil {
		return fmt.Errorf("failed to set screen share flag: %w", err)
	}
	return nil
}
