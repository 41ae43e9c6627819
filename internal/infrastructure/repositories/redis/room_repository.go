package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RoomRepository keeps the voice-room registry in Redis so several relay
// nodes can share one roster. Participants live in a hash per room, sharers
// in a second hash; both are deleted together when the room empties.
type RoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RoomRepository{client: client, prefix: "voicemesh"}
}

func (r *RoomRepository) participantsKey(roomID domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:participants", r.prefix, roomID)
}

func (r *RoomRepository) sharersKey(roomID domain.RoomID) string {
	return fmt.Sprintf("%s:room:%s:sharers", r.prefix, roomID)
}

func (r *RoomRepository) roomsKey() string {
	return r.prefix + ":rooms"
}

func (r *RoomRepository) Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error) {
	key := r.participantsKey(roomID)

	entries, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	snapshot := make([]domain.VoiceParticipant, 0, len(entries))
	for id, raw := range entries {
		if domain.UserID(id) == p.ID {
			continue
		}
		var existing domain.VoiceParticipant
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			continue
		}
		snapshot = append(snapshot, existing)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].JoinedAt.Before(snapshot[j].JoinedAt) })

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participant: %w", err)
	}

	// HSet replaces an existing field, which is exactly the reconnect
	// semantics: one entry per (room, user), connection id updated in place.
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, string(p.ID), data)
	pipe.SAdd(ctx, r.roomsKey(), string(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to register participant: %w", err)
	}

	return snapshot, nil
}

func (r *RoomRepository) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) ([]domain.VoiceParticipant, bool, error) {
	key := r.participantsKey(roomID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return nil, false, domain.ErrRoomNotFound
	}

	pipe := r.client.TxPipeline()
	removed := pipe.HDel(ctx, key, string(userID))
	pipe.HDel(ctx, r.sharersKey(roomID), string(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to remove participant: %w", err)
	}
	left := removed.Val() > 0

	remaining, err := r.Participants(ctx, roomID)
	if err != nil && err != domain.ErrRoomNotFound {
		return nil, left, err
	}
	if len(remaining) == 0 {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key, r.sharersKey(roomID))
		pipe.SRem(ctx, r.roomsKey(), string(roomID))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, left, fmt.Errorf("failed to destroy empty room: %w", err)
		}
		return nil, left, nil
	}
	return remaining, left, nil
}

func (r *RoomRepository) Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error) {
	raw, err := r.client.HGet(ctx, r.participantsKey(roomID), string(userID)).Result()
	if err == redis.Nil {
		return domain.VoiceParticipant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.VoiceParticipant{}, fmt.Errorf("failed to get participant: %w", err)
	}
	var p domain.VoiceParticipant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.VoiceParticipant{}, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return p, nil
}

func (r *RoomRepository) Participants(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error) {
	entries, err := r.client.HGetAll(ctx, r.participantsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	if len(entries) == 0 {
		return nil, domain.ErrRoomNotFound
	}

	out := make([]domain.VoiceParticipant, 0, len(entries))
	for _, raw := range entries {
		var p domain.VoiceParticipant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *RoomRepository) SetSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error {
	if _, err := r.Participant(ctx, roomID, userID); err != nil {
		return err
	}
	sharer := domain.ScreenSharer{UserID: userID, HasAudio: hasAudio}
	data, err := json.Marshal(sharer)
	if err != nil {
		return fmt.Errorf("failed to marshal sharer: %w", err)
	}
	if err := r.client.HSet(ctx, r.sharersKey(roomID), string(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to set sharer: %w", err)
	}
	return nil
}

func (r *RoomRepository) ClearSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := r.client.HDel(ctx, r.sharersKey(roomID), string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear sharer: %w", err)
	}
	return nil
}

func (r *RoomRepository) Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error) {
	entries, err := r.client.HGetAll(ctx, r.sharersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sharers: %w", err)
	}
	out := make([]domain.ScreenSharer, 0, len(entries))
	for _, raw := range entries {
		var sh domain.ScreenSharer
		if err := json.Unmarshal([]byte(raw), &sh); err != nil {
			continue
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *RoomRepository) Rooms(ctx context.Context) ([]domain.RoomSummary, error) {
	ids, err := r.client.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	out := make([]domain.RoomSummary, 0, len(ids))
	for _, id := range ids {
		roomID := domain.RoomID(id)
		participants, err := r.client.HLen(ctx, r.participantsKey(roomID)).Result()
		if err != nil || participants == 0 {
			continue
		}
		sharers, _ := r.client.HLen(ctx, r.sharersKey(roomID)).Result()
		out = append(out, domain.RoomSummary{
			ID:           roomID,
			Participants: int(participants),
			Sharers:      int(sharers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
