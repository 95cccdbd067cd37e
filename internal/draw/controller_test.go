package draw

import (
	"context"
	"testing"
	"time"

	"prizedraw/internal/models"
	"prizedraw/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetRestoresCounts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	addPrize(t, s, "prize-1", 3, 3)
	addPrize(t, s, "prize-2", 2, 2)
	addPrize(t, s, "prize-3", 1, 1)
	addParticipants(t, s, numberedParticipants(8)...)

	e := newTestEngine(s)
	for _, id := range []string{"prize-1", "prize-2"} {
		res, err := e.Draw(ctx, testOwner, Request{PrizeID: id, Count: 2})
		require.NoError(t, err)
		require.Len(t, res.Winners, 2)
	}

	c := NewController(s, e.Locker())
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Reset(ctx, testOwner))

		winners, err := s.ListWinners(ctx, testOwner)
		require.NoError(t, err)
		assert.Empty(t, winners)

		prizes, err := s.ListPrizes(ctx, testOwner)
		require.NoError(t, err)
		require.Len(t, prizes, 3)
		for _, p := range prizes {
			assert.Equal(t, p.TotalCount, p.RemainingCount)
			assert.Equal(t, models.PrizeUntouched, p.State())
		}

		participants, err := s.ListParticipants(ctx, testOwner)
		require.NoError(t, err)
		assert.Len(t, participants, 8)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	addPrize(t, s, "prize-1", 3, 3)
	addParticipants(t, s, "A", "B", "C")
	e := newTestEngine(s)
	_, err := e.Draw(ctx, testOwner, Request{PrizeID: "prize-1", All: true})
	require.NoError(t, err)

	require.NoError(t, NewController(s, e.Locker()).Clear(ctx, testOwner))

	prizes, _ := s.ListPrizes(ctx, testOwner)
	participants, _ := s.ListParticipants(ctx, testOwner)
	winners, _ := s.ListWinners(ctx, testOwner)
	assert.Empty(t, prizes)
	assert.Empty(t, participants)
	assert.Empty(t, winners)
}

func TestResetWaitsForRunningDraw(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	addPrize(t, s, "prize-1", 3, 3)
	addPrize(t, s, "prize-2", 3, 3)
	locker := NewKeyedMutex()
	c := NewController(s, locker)

	unlock, err := locker.Lock(ctx, PrizeKey(testOwner, "prize-2"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Reset(ctx, testOwner) }()

	select {
	case <-done:
		t.Fatal("reset finished while a prize was locked")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reset did not finish after the lock was released")
	}
}

func TestResetHonoursCancellation(t *testing.T) {
	s := store.NewMemory()
	addPrize(t, s, "prize-1", 3, 3)
	locker := NewKeyedMutex()
	unlock, err := locker.Lock(context.Background(), PrizeKey(testOwner, "prize-1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, NewController(s, locker).Reset(ctx, testOwner), context.DeadlineExceeded)
}
