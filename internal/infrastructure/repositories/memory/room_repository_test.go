package memory

import (
	"context"
	"testing"
	"time"

	"voicemesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinAt(t *testing.T, repo *RoomRepository, room domain.RoomID, id string, at time.Time) []domain.VoiceParticipant {
	t.Helper()
	snapshot, err := repo.Join(context.Background(), room, domain.VoiceParticipant{
		ID:           domain.UserID(id),
		DisplayName:  id,
		ConnectionID: domain.ConnectionID("conn-" + id),
		JoinedAt:     at,
	})
	require.NoError(t, err)
	return snapshot
}

func TestJoinSnapshotExcludesCallerAndOrdersByJoinTime(t *testing.T) {
	repo := NewRoomRepository()
	base := time.Now()

	// Insert out of arrival order to prove the snapshot sorts by JoinedAt.
	joinAt(t, repo, "general", "carol", base.Add(2*time.Second))
	joinAt(t, repo, "general", "alice", base)
	snapshot := joinAt(t, repo, "general", "bob", base.Add(time.Second))

	require.Len(t, snapshot, 2)
	assert.Equal(t, domain.UserID("alice"), snapshot[0].ID)
	assert.Equal(t, domain.UserID("carol"), snapshot[1].ID)
}

func TestJoinReconnectMutatesExistingEntry(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	base := time.Now()

	joinAt(t, repo, "general", "alice", base)

	_, err := repo.Join(ctx, "general", domain.VoiceParticipant{
		ID:           "alice",
		DisplayName:  "Alice II",
		ConnectionID: "conn-2",
		JoinedAt:     base.Add(time.Minute),
	})
	require.NoError(t, err)

	all, err := repo.Participants(ctx, "general")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ConnectionID("conn-2"), all[0].ConnectionID)
	assert.Equal(t, "Alice II", all[0].DisplayName)
	assert.Equal(t, base, all[0].JoinedAt, "original join time survives reconnects")
}

func TestLeaveNonMemberReportsFalse(t *testing.T) {
	repo := NewRoomRepository()
	joinAt(t, repo, "general", "alice", time.Now())

	remaining, member, err := repo.Leave(context.Background(), "general", "bob")
	require.NoError(t, err)
	assert.False(t, member)
	require.Len(t, remaining, 1)
}

func TestLeaveUnknownRoom(t *testing.T) {
	repo := NewRoomRepository()

	_, _, err := repo.Leave(context.Background(), "nowhere", "alice")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	joinAt(t, repo, "general", "alice", time.Now())

	remaining, member, err := repo.Leave(ctx, "general", "alice")
	require.NoError(t, err)
	assert.True(t, member)
	assert.Empty(t, remaining)

	_, err = repo.Participants(ctx, "general")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeaveDropsSharerEntry(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	base := time.Now()
	joinAt(t, repo, "general", "alice", base)
	joinAt(t, repo, "general", "bob", base.Add(time.Second))
	require.NoError(t, repo.SetSharer(ctx, "general", "alice", false))

	_, _, err := repo.Leave(ctx, "general", "alice")
	require.NoError(t, err)

	sharers, err := repo.Sharers(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, sharers)
}

func TestSetSharerRequiresParticipant(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()

	assert.ErrorIs(t, repo.SetSharer(ctx, "general", "alice", false), domain.ErrRoomNotFound)

	joinAt(t, repo, "general", "alice", time.Now())
	assert.ErrorIs(t, repo.SetSharer(ctx, "general", "bob", false), domain.ErrParticipantNotFound)
	assert.NoError(t, repo.SetSharer(ctx, "general", "alice", true))
}

func TestSharersSortedByUserID(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	base := time.Now()
	joinAt(t, repo, "general", "zoe", base)
	joinAt(t, repo, "general", "amy", base.Add(time.Second))
	require.NoError(t, repo.SetSharer(ctx, "general", "zoe", false))
	require.NoError(t, repo.SetSharer(ctx, "general", "amy", true))

	sharers, err := repo.Sharers(ctx, "general")
	require.NoError(t, err)
	require.Len(t, sharers, 2)
	assert.Equal(t, domain.UserID("amy"), sharers[0].UserID)
	assert.Equal(t, domain.UserID("zoe"), sharers[1].UserID)
}

func TestClearSharerIsIdempotent(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	joinAt(t, repo, "general", "alice", time.Now())

	assert.NoError(t, repo.ClearSharer(ctx, "general", "alice"))
	require.NoError(t, repo.SetSharer(ctx, "general", "alice", false))
	assert.NoError(t, repo.ClearSharer(ctx, "general", "alice"))
	assert.NoError(t, repo.ClearSharer(ctx, "general", "alice"))
}

func TestRoomsSummaries(t *testing.T) {
	repo := NewRoomRepository()
	ctx := context.Background()
	base := time.Now()
	joinAt(t, repo, "ops", "alice", base)
	joinAt(t, repo, "ops", "bob", base.Add(time.Second))
	joinAt(t, repo, "dev", "carol", base)
	require.NoError(t, repo.SetSharer(ctx, "ops", "alice", false))

	rooms, err := repo.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.RoomSummary{ID: "dev", Participants: 1, Sharers: 0}, rooms[0])
	assert.Equal(t, domain.RoomSummary{ID: "ops", Participants: 2, Sharers: 1}, rooms[1])
}
