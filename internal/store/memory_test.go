package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T, m *Memory, ownerID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.CreatePrize(ctx, models.Prize{ID: "prize-1", OwnerID: ownerID, Name: "TV", TotalCount: 2, RemainingCount: 2}))
	require.NoError(t, m.CreateParticipants(ctx, ownerID, []models.Participant{
		{ID: "p-1", Name: "Alice"},
		{ID: "p-2", Name: "Bob"},
	}))
}

func TestMemoryOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedMemory(t, m, "owner-a")

	_, err := m.GetPrize(ctx, "owner-b", "prize-1")
	assert.True(t, errors.Is(err, apperrors.ErrPrizeNotFound))

	prizes, err := m.ListPrizes(ctx, "owner-b")
	require.NoError(t, err)
	assert.Empty(t, prizes)

	participants, err := m.ListParticipants(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "owner-a", participants[0].OwnerID)
}

func TestMemoryUpdatePrizeRemaining(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedMemory(t, m, "owner")

	require.NoError(t, m.UpdatePrizeRemaining(ctx, "owner", "prize-1", 2, 1))

	err := m.UpdatePrizeRemaining(ctx, "owner", "prize-1", 2, 1)
	assert.True(t, errors.Is(err, apperrors.ErrRemainingConflict), "stale expected value must conflict")

	err = m.UpdatePrizeRemaining(ctx, "owner", "prize-1", 1, -1)
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	err = m.UpdatePrizeRemaining(ctx, "owner", "missing", 1, 0)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	p, err := m.GetPrize(ctx, "owner", "prize-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.RemainingCount)
}

func TestMemoryCreateWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedMemory(t, m, "owner")

	w := models.Winner{ID: "w-1", OwnerID: "owner", ParticipantID: "p-1", PrizeID: "prize-1"}
	created, err := m.CreateWinner(ctx, w)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.CreateWinner(ctx, w)
	require.NoError(t, err)
	assert.False(t, created, "second write of the same winner must be a no-op")

	_, err = m.CreateWinner(ctx, models.Winner{ID: "w-2", OwnerID: "owner", ParticipantID: "p-9", PrizeID: "prize-1"})
	assert.True(t, errors.Is(err, apperrors.ErrParticipantNotFound))

	_, err = m.CreateWinner(ctx, models.Winner{ID: "w-3", OwnerID: "other", ParticipantID: "p-1", PrizeID: "prize-1"})
	assert.True(t, errors.Is(err, apperrors.ErrPrizeNotFound), "references must resolve within the winner's owner")

	winners, err := m.ListWinners(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, winners, 1)

	require.NoError(t, m.DeleteAllWinners(ctx, "owner"))
	created, err = m.CreateWinner(ctx, w)
	require.NoError(t, err)
	assert.True(t, created, "winner ids are forgotten after a bulk delete")
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedMemory(t, m, "owner")

	err := m.UpdatePrize(ctx, models.Prize{ID: "prize-1", OwnerID: "owner", Name: "OLED TV", TotalCount: 1, RemainingCount: 2})
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	require.NoError(t, m.UpdatePrize(ctx, models.Prize{ID: "prize-1", OwnerID: "owner", Name: "OLED TV", TotalCount: 3, RemainingCount: 3}))
	p, err := m.GetPrize(ctx, "owner", "prize-1")
	require.NoError(t, err)
	assert.Equal(t, "OLED TV", p.Name)

	require.NoError(t, m.UpdatePrizeRemaining(ctx, "owner", "prize-1", 3, 0))
	require.NoError(t, m.ResetPrizeCounts(ctx, "owner"))
	p, err = m.GetPrize(ctx, "owner", "prize-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.RemainingCount)

	require.NoError(t, m.DeleteParticipant(ctx, "owner", "p-1"))
	assert.True(t, errors.Is(m.DeleteParticipant(ctx, "owner", "p-1"), apperrors.ErrParticipantNotFound))
	require.NoError(t, m.DeletePrize(ctx, "owner", "prize-1"))
	assert.True(t, errors.Is(m.DeletePrize(ctx, "owner", "prize-1"), apperrors.ErrPrizeNotFound))

	require.NoError(t, m.DeleteAllParticipants(ctx, "owner"))
	require.NoError(t, m.DeleteAllPrizes(ctx, "owner"))
	participants, _ := m.ListParticipants(ctx, "owner")
	prizes, _ := m.ListPrizes(ctx, "owner")
	assert.Empty(t, participants)
	assert.Empty(t, prizes)
}

func TestMemoryEvictIdle(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	seedMemory(t, m, "stale")
	now = now.Add(50 * time.Minute)
	seedMemory(t, m, "fresh")
	now = now.Add(20 * time.Minute)

	assert.Equal(t, 1, m.EvictIdle(time.Hour))

	prizes, err := m.ListPrizes(context.Background(), "stale")
	require.NoError(t, err)
	assert.Empty(t, prizes)
	prizes, err = m.ListPrizes(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Len(t, prizes, 1)
}

func TestMemoryEvictIdleKeepsReadingOwners(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	seedMemory(t, m, "screen")
	// Only reads from here on, like a display polling the lottery.
	for range 7 {
		now = now.Add(10 * time.Minute)
		_, err := m.ListPrizes(ctx, "screen")
		require.NoError(t, err)
		_, err = m.ListWinners(ctx, "screen")
		require.NoError(t, err)
	}

	assert.Equal(t, 0, m.EvictIdle(time.Hour))
	prizes, err := m.ListPrizes(ctx, "screen")
	require.NoError(t, err)
	assert.Len(t, prizes, 1)
	participants, err := m.ListParticipants(ctx, "screen")
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	// A single lookup counts as activity as well.
	now = now.Add(59 * time.Minute)
	_, err = m.GetPrize(ctx, "screen", "prize-1")
	require.NoError(t, err)
	now = now.Add(59 * time.Minute)
	assert.Equal(t, 0, m.EvictIdle(time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.EvictIdle(time.Hour))
}

func TestRunInTxWithoutTransactor(t *testing.T) {
	m := NewMemory()
	called := false
	used, err := RunInTx(context.Background(), m, func(s Store) error {
		called = true
		assert.Same(t, m, s)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, used)
}
