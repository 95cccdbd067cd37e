package draw

import (
	"context"
	"fmt"
	"sort"

	"prizedraw/internal/store"

	"github.com/google/logger"
)

// Controller runs the bulk operations that touch every prize of an owner.
// It takes the same per-prize locks as the Engine, so a reset never
// interleaves with a draw.
type Controller struct {
	store  store.Store
	locker Locker
}

func NewController(s store.Store, l Locker) *Controller {
	return &Controller{store: s, locker: l}
}

// Reset deletes all winners and restores every prize to its total count.
// Rosters are kept. Calling it twice is the same as calling it once.
func (c *Controller) Reset(ctx context.Context, ownerID string) error {
	unlock, err := c.lockPrizes(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = store.RunInTx(ctx, c.store, func(s store.Store) error {
		if err := s.DeleteAllWinners(ctx, ownerID); err != nil {
			return err
		}
		return s.ResetPrizeCounts(ctx, ownerID)
	})
	if err != nil {
		return fmt.Errorf("reset lottery: %w", err)
	}
	logger.Infof("draw: reset lottery for owner %s", ownerID)
	return nil
}

// Clear erases every winner, participant and prize of the owner.
func (c *Controller) Clear(ctx context.Context, ownerID string) error {
	unlock, err := c.lockPrizes(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = store.RunInTx(ctx, c.store, func(s store.Store) error {
		if err := s.DeleteAllWinners(ctx, ownerID); err != nil {
			return err
		}
		if err := s.DeleteAllParticipants(ctx, ownerID); err != nil {
			return err
		}
		return s.DeleteAllPrizes(ctx, ownerID)
	})
	if err != nil {
		return fmt.Errorf("clear lottery: %w", err)
	}
	logger.Infof("draw: cleared all data for owner %s", ownerID)
	return nil
}

func (c *Controller) lockPrizes(ctx context.Context, ownerID string) (func(), error) {
	prizes, err := c.store.ListPrizes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(prizes))
	for _, p := range prizes {
		keys = append(keys, PrizeKey(ownerID, p.ID))
	}
	sort.Strings(keys)
	return lockAll(ctx, c.locker, keys)
}
