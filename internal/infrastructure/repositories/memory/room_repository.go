package memory

import (
	"context"
	"sort"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

// RoomRepository is the default in-process voice-room registry.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.VoiceRoom
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{rooms: make(map[domain.RoomID]*domain.VoiceRoom)}
}

func (r *RoomRepository) Join(ctx context.Context, roomID domain.RoomID, p domain.VoiceParticipant) ([]domain.VoiceParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = domain.NewVoiceRoom(roomID)
		r.rooms[roomID] = room
	}

	snapshot := make([]domain.VoiceParticipant, 0, len(room.Participants))
	for id, existing := range room.Participants {
		if id != p.ID {
			snapshot = append(snapshot, *existing)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].JoinedAt.Before(snapshot[j].JoinedAt) })

	if existing, ok := room.Participants[p.ID]; ok {
		// Reconnect: replace the connection handle, keep the single entry.
		existing.ConnectionID = p.ConnectionID
		existing.DisplayName = p.DisplayName
	} else {
		entry := p
		room.Participants[p.ID] = &entry
	}

	return snapshot, nil
}

func (r *RoomRepository) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) ([]domain.VoiceParticipant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false, domain.ErrRoomNotFound
	}

	_, member := room.Participants[userID]
	if member {
		delete(room.Participants, userID)
		delete(room.Sharers, userID)
	}

	if len(room.Participants) == 0 {
		delete(r.rooms, roomID)
		return nil, member, nil
	}

	remaining := make([]domain.VoiceParticipant, 0, len(room.Participants))
	for _, p := range room.Participants {
		remaining = append(remaining, *p)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].JoinedAt.Before(remaining[j].JoinedAt) })
	return remaining, member, nil
}

func (r *RoomRepository) Participant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.VoiceParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.VoiceParticipant{}, domain.ErrRoomNotFound
	}
	p, ok := room.Participants[userID]
	if !ok {
		return domain.VoiceParticipant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

func (r *RoomRepository) Participants(ctx context.Context, roomID domain.RoomID) ([]domain.VoiceParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.VoiceParticipant, 0, len(room.Participants))
	for _, p := range room.Participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *RoomRepository) SetSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, hasAudio bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, ok := room.Participants[userID]; !ok {
		return domain.ErrParticipantNotFound
	}
	room.Sharers[userID] = &domain.ScreenSharer{UserID: userID, HasAudio: hasAudio}
	return nil
}

func (r *RoomRepository) ClearSharer(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	delete(room.Sharers, userID)
	return nil
}

func (r *RoomRepository) Sharers(ctx context.Context, roomID domain.RoomID) ([]domain.ScreenSharer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.ScreenSharer, 0, len(room.Sharers))
	for _, sh := range room.Sharers {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *RoomRepository) Rooms(ctx context.Context) ([]domain.RoomSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RoomSummary, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, domain.RoomSummary{
			ID:           id,
			Participants: len(room.Participants),
			Sharers:      len(room.Sharers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ ports.RoomRepository = (*RoomRepository)(nil)
