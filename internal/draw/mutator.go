package draw

import (
	"context"
	"errors"
	"fmt"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/models"
	"prizedraw/internal/store"

	"github.com/google/logger"
)

// Mutator applies a selected batch of winners to the store.
//
// For every winner the record is written first and the prize's remaining
// count is decremented only when that write created a new record. A crash
// in between leaves the count too high, never too low. The next Apply for
// the prize lowers the count to match the recorded winners before doing
// anything else, so replaying a batch creates nothing twice and decrements
// nothing twice.
type Mutator struct {
	store store.Store
}

func NewMutator(s store.Store) *Mutator {
	return &Mutator{store: s}
}

// Apply persists batch in order and returns the winners that are committed,
// including ones a previous attempt already wrote. On failure it returns the
// committed prefix together with the error. The caller must hold the prize lock.
func (m *Mutator) Apply(ctx context.Context, ownerID, prizeID string, batch []models.Winner) ([]models.Winner, error) {
	committed := make([]models.Winner, 0, len(batch))

	existing, err := m.store.ListWinners(ctx, ownerID)
	if err != nil {
		return committed, err
	}
	persisted := make(map[string]struct{}, len(existing))
	for _, w := range existing {
		persisted[w.ID] = struct{}{}
	}
	if _, err := m.reconcile(ctx, ownerID, prizeID, recordedFor(existing, prizeID)); err != nil {
		return committed, err
	}

	for _, w := range batch {
		if _, ok := persisted[w.ID]; ok {
			committed = append(committed, w)
			continue
		}
		created, err := m.applyOne(ctx, ownerID, prizeID, w)
		if created {
			committed = append(committed, w)
		}
		if err != nil {
			return committed, err
		}
	}
	return committed, nil
}

// reconcile lowers remaining to total - drawn when an earlier attempt
// recorded a winner but never got to decrement. It returns the prize as it
// stands afterwards.
func (m *Mutator) reconcile(ctx context.Context, ownerID, prizeID string, drawn int) (models.Prize, error) {
	prize, err := m.store.GetPrize(ctx, ownerID, prizeID)
	if err != nil {
		return models.Prize{}, err
	}
	want := prize.TotalCount - drawn
	if want < 0 || prize.RemainingCount <= want {
		return prize, nil
	}
	logger.Warningf("draw: prize %s remaining %d does not match %d recorded winners, setting %d",
		prizeID, prize.RemainingCount, drawn, want)
	if err := m.store.UpdatePrizeRemaining(ctx, ownerID, prizeID, prize.RemainingCount, want); err != nil {
		return models.Prize{}, err
	}
	prize.RemainingCount = want
	return prize, nil
}

// applyOne reports whether w was written, which may be true even when the
// decrement that follows failed.
func (m *Mutator) applyOne(ctx context.Context, ownerID, prizeID string, w models.Winner) (bool, error) {
	prize, err := m.store.GetPrize(ctx, ownerID, prizeID)
	if err != nil {
		return false, err
	}
	if prize.RemainingCount <= 0 {
		return false, exhaustedConflict(prizeID)
	}

	created, err := m.store.CreateWinner(ctx, w)
	if err != nil || !created {
		return created, err
	}

	err = m.store.UpdatePrizeRemaining(ctx, ownerID, prizeID, prize.RemainingCount, prize.RemainingCount-1)
	if !errors.Is(err, apperrors.ErrRemainingConflict) {
		return true, err
	}

	// The count moved under us; retry once with fresh state.
	prize, err = m.store.GetPrize(ctx, ownerID, prizeID)
	if err != nil {
		return true, err
	}
	if prize.RemainingCount <= 0 {
		return true, exhaustedConflict(prizeID)
	}
	return true, m.store.UpdatePrizeRemaining(ctx, ownerID, prizeID, prize.RemainingCount, prize.RemainingCount-1)
}

func exhaustedConflict(prizeID string) error {
	return apperrors.NewConflict("PRIZE_EXHAUSTED", fmt.Sprintf("prize %s ran out while recording winners", prizeID))
}
