// Package store persists prizes, participants and winners per owner.
package store

import (
	"context"

	"prizedraw/internal/models"
)

// Store is the persistence collaborator of the draw engine. Every call is
// scoped to one owner; entities of other owners are invisible.
type Store interface {
	GetPrize(ctx context.Context, ownerID, id string) (models.Prize, error)
	ListPrizes(ctx context.Context, ownerID string) ([]models.Prize, error)
	CreatePrize(ctx context.Context, p models.Prize) error
	// UpdatePrize overwrites name, image and both counts. Last write wins.
	UpdatePrize(ctx context.Context, p models.Prize) error
	DeletePrize(ctx context.Context, ownerID, id string) error
	DeleteAllPrizes(ctx context.Context, ownerID string) error
	// UpdatePrizeRemaining sets remaining to value only if it is currently
	// expected; otherwise it fails with apperrors.ErrRemainingConflict.
	UpdatePrizeRemaining(ctx context.Context, ownerID, id string, expected, value int) error
	ResetPrizeCounts(ctx context.Context, ownerID string) error

	ListParticipants(ctx context.Context, ownerID string) ([]models.Participant, error)
	CreateParticipants(ctx context.Context, ownerID string, ps []models.Participant) error
	DeleteParticipant(ctx context.Context, ownerID, id string) error
	DeleteAllParticipants(ctx context.Context, ownerID string) error

	ListWinners(ctx context.Context, ownerID string) ([]models.Winner, error)
	// CreateWinner is idempotent on the winner ID. It reports whether a new
	// record was written.
	CreateWinner(ctx context.Context, w models.Winner) (bool, error)
	DeleteAllWinners(ctx context.Context, ownerID string) error
}

// Transactor is implemented by stores with real multi-statement transactions.
// fn receives a Store bound to the transaction; returning an error rolls back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OwnerLocker is implemented by transaction-bound stores that can hold a lock
// on an owner's whole lottery until the transaction ends, shared by every
// process using the same database.
type OwnerLocker interface {
	LockOwner(ctx context.Context, ownerID string) error
}

// RunInTx runs fn inside a transaction when s supports one, and directly
// against s otherwise. It reports whether a transaction was used.
func RunInTx(ctx context.Context, s Store, fn func(Store) error) (bool, error) {
	if tx, ok := s.(Transactor); ok {
		return true, tx.WithTx(ctx, fn)
	}
	return false, fn(s)
}
