package services

import (
	"context"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/repositories/memory"
	"voicemesh/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoomService(t *testing.T, maxRoomSize int, screenShareOn bool) ports.RoomService {
	t.Helper()
	flags := NewFlagService(memory.NewFlagRepository(screenShareOn), time.Minute, logger.Nop())
	return NewRoomService(memory.NewRoomRepository(), flags, maxRoomSize, logger.Nop())
}

func participant(id string, conn string) domain.VoiceParticipant {
	return domain.VoiceParticipant{
		ID:           domain.UserID(id),
		DisplayName:  id,
		ConnectionID: domain.ConnectionID(conn),
		JoinedAt:     time.Now(),
	}
}

func TestJoinReturnsPriorRosterExcludingCaller(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	snapshot, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)
	assert.Empty(t, snapshot, "first joiner sees nobody")

	snapshot, err = svc.Join(ctx, "general", participant("bob", "c2"))
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.UserID("alice"), snapshot[0].ID)
}

func TestJoinIsUniquePerUser(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)

	// Reconnect replaces the connection handle; the roster keeps one entry.
	snapshot, err := svc.Join(ctx, "general", participant("alice", "c2"))
	require.NoError(t, err)
	assert.Empty(t, snapshot, "reconnecting user does not see itself")

	roster, err := svc.Roster(ctx, "general")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, domain.ConnectionID("c2"), roster[0].ConnectionID)
}

func TestJoinRejectsInvalidRoomCode(t *testing.T) {
	svc := newTestRoomService(t, 16, true)

	_, err := svc.Join(context.Background(), "bad room!", participant("alice", "c1"))
	assert.Error(t, err)
}

func TestJoinEnforcesRoomCap(t *testing.T) {
	svc := newTestRoomService(t, 2, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)
	_, err = svc.Join(ctx, "general", participant("bob", "c2"))
	require.NoError(t, err)

	_, err = svc.Join(ctx, "general", participant("carol", "c3"))
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// A member reconnecting does not count against the cap.
	_, err = svc.Join(ctx, "general", participant("bob", "c4"))
	assert.NoError(t, err)
}

func TestLeaveReportsRemainingAndMembership(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)
	_, err = svc.Join(ctx, "general", participant("bob", "c2"))
	require.NoError(t, err)

	remaining, left, err := svc.Leave(ctx, "general", "alice")
	require.NoError(t, err)
	assert.True(t, left)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.UserID("bob"), remaining[0].ID)
}

func TestLeaveUnknownRoomIsNoOp(t *testing.T) {
	svc := newTestRoomService(t, 16, true)

	remaining, left, err := svc.Leave(context.Background(), "nowhere", "alice")
	require.NoError(t, err)
	assert.False(t, left)
	assert.Empty(t, remaining)
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)

	_, left, err := svc.Leave(ctx, "general", "alice")
	require.NoError(t, err)
	assert.True(t, left)

	rooms, err := svc.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms, "empty rooms are destroyed, not leaked")
}

func TestStartShareRequiresFlag(t *testing.T) {
	svc := newTestRoomService(t, 16, false)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)

	err = svc.StartShare(ctx, "general", "alice", false)
	assert.ErrorIs(t, err, domain.ErrScreenShareDisabled)
}

func TestStartShareRequiresMembership(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)

	err = svc.StartShare(ctx, "general", "stranger", false)
	assert.ErrorIs(t, err, domain.ErrNotRoomMember)
}

func TestStartShareTwiceFails(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)

	require.NoError(t, svc.StartShare(ctx, "general", "alice", true))
	assert.ErrorIs(t, svc.StartShare(ctx, "general", "alice", true), domain.ErrAlreadySharing)

	sharers, err := svc.Sharers(ctx, "general")
	require.NoError(t, err)
	require.Len(t, sharers, 1)
	assert.True(t, sharers[0].HasAudio)
}

func TestLeaveClearsSharerEntry(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)
	_, err = svc.Join(ctx, "general", participant("bob", "c2"))
	require.NoError(t, err)
	require.NoError(t, svc.StartShare(ctx, "general", "alice", false))

	_, _, err = svc.Leave(ctx, "general", "alice")
	require.NoError(t, err)

	sharers, err := svc.Sharers(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, sharers, "sharer-set membership never outlives roster membership")
}

func TestIsMember(t *testing.T) {
	svc := newTestRoomService(t, 16, true)
	ctx := context.Background()

	assert.False(t, svc.IsMember(ctx, "general", "alice"))

	_, err := svc.Join(ctx, "general", participant("alice", "c1"))
	require.NoError(t, err)
	assert.True(t, svc.IsMember(ctx, "general", "alice"))
	assert.False(t, svc.IsMember(ctx, "general", "bob"))
}
