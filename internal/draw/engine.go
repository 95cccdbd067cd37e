package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/models"
	"prizedraw/internal/rng"
	"prizedraw/internal/store"

	"github.com/google/logger"
	"github.com/google/uuid"
)

// Request asks for Count winners of a prize, or for every remaining unit when
// All is set.
type Request struct {
	PrizeID string `json:"prizeId"`
	Count   int    `json:"count"`
	All     bool   `json:"all"`
}

// Result is the outcome of one draw. Winners are in selection order and are
// all persisted. An exhausted prize or an empty pool gives no winners and no
// error.
type Result struct {
	BatchID   string          `json:"batchId,omitempty"`
	Prize     models.Prize    `json:"prize"`
	Winners   []models.Winner `json:"winners"`
	Requested int             `json:"requested"`
}

// PartialCommitError reports a draw whose winners were selected but not all
// recorded. Committed is exactly what the store holds for this batch.
type PartialCommitError struct {
	Requested int
	Committed []models.Winner
	Batch     []models.Winner
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("draw recorded %d of %d winners: %v", len(e.Committed), e.Requested, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// Pending returns the selected winners that were not recorded.
func (e *PartialCommitError) Pending() []models.Winner {
	return e.Batch[len(e.Committed):]
}

// Engine runs draws. Draws of one prize are serialized through the Locker.
// Different prizes proceed in parallel when wins are allowed per prize.
type Engine struct {
	store  store.Store
	locker Locker
	source rng.Source
	policy RepeatPolicy
	now    func() time.Time
}

type Option func(*Engine)

func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithSource replaces the random source. Only tests should pass anything but
// rng.NewCryptoSource.
func WithSource(src rng.Source) Option { return func(e *Engine) { e.source = src } }

func WithPolicy(p RepeatPolicy) Option { return func(e *Engine) { e.policy = p } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		locker: NewKeyedMutex(),
		source: rng.NewCryptoSource(),
		policy: RepeatNone,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Locker() Locker { return e.locker }

func (e *Engine) Policy() RepeatPolicy { return e.policy }

// Draw selects and records winners for one prize.
func (e *Engine) Draw(ctx context.Context, ownerID string, req Request) (*Result, error) {
	if req.PrizeID == "" {
		return nil, apperrors.NewInvalidRequest("PRIZE_REQUIRED", "prize id is required")
	}
	if !req.All && req.Count <= 0 {
		return nil, apperrors.NewInvalidRequest("INVALID_COUNT", fmt.Sprintf("requested count %d must be positive", req.Count))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := e.lock(ctx, ownerID, req.PrizeID)
	if err != nil {
		return nil, fmt.Errorf("lock prize %s: %w", req.PrizeID, err)
	}
	defer unlock()

	result := &Result{Winners: []models.Winner{}}
	transactional, err := store.RunInTx(ctx, e.store, func(s store.Store) error {
		return e.drawLocked(ctx, s, ownerID, req, result)
	})
	if err != nil {
		var partial *PartialCommitError
		if errors.As(err, &partial) && transactional {
			// The transaction rolled back everything it wrote.
			partial.Committed = []models.Winner{}
		}
		return nil, err
	}

	if len(result.Winners) > 0 {
		logger.Infof("draw: owner %s prize %s batch %s: %d winners, %d remaining",
			ownerID, req.PrizeID, result.BatchID, len(result.Winners), result.Prize.RemainingCount)
	}
	return result, nil
}

// lock serializes draws of the prize. Under RepeatNone eligibility depends on
// every prize's winners, so draws of one owner serialize on the pool too.
func (e *Engine) lock(ctx context.Context, ownerID, prizeID string) (func(), error) {
	keys := []string{PrizeKey(ownerID, prizeID)}
	if e.policy == RepeatNone {
		keys = append(keys, PoolKey(ownerID))
	}
	return lockAll(ctx, e.locker, keys)
}

func (e *Engine) drawLocked(ctx context.Context, s store.Store, ownerID string, req Request, result *Result) error {
	// The in-process pool key does not reach other instances sharing the
	// database, so the store takes its own owner lock before the prize row.
	if ol, ok := s.(store.OwnerLocker); ok && e.policy == RepeatNone {
		if err := ol.LockOwner(ctx, ownerID); err != nil {
			return err
		}
	}

	// Read the prize first: in a transaction this locks its row, so the
	// winners listed below are current.
	if _, err := s.GetPrize(ctx, ownerID, req.PrizeID); err != nil {
		return err
	}
	winners, err := s.ListWinners(ctx, ownerID)
	if err != nil {
		return err
	}
	mutator := NewMutator(s)
	// Settle a count an earlier failed batch left too high before judging
	// whether anything remains.
	prize, err := mutator.reconcile(ctx, ownerID, req.PrizeID, recordedFor(winners, req.PrizeID))
	if err != nil {
		return err
	}
	result.Prize = prize

	want := req.Count
	if req.All {
		want = prize.RemainingCount
	}
	result.Requested = want
	if prize.RemainingCount <= 0 {
		return nil
	}

	participants, err := s.ListParticipants(ctx, ownerID)
	if err != nil {
		return err
	}

	pool := Eligible(participants, winners, prize.ID, e.policy)
	if len(pool) == 0 {
		return nil
	}
	n := min(want, prize.RemainingCount, len(pool))

	picked, err := rng.Sample(e.source, pool, n)
	if err != nil {
		return fmt.Errorf("sample winners: %w", err)
	}

	batchID := uuid.New()
	now := e.now()
	batch := make([]models.Winner, 0, len(picked))
	for _, p := range picked {
		batch = append(batch, models.Winner{
			ID:              WinnerID(batchID, p.ID, prize.ID),
			OwnerID:         ownerID,
			BatchID:         batchID.String(),
			ParticipantID:   p.ID,
			ParticipantName: p.Name,
			PrizeID:         prize.ID,
			PrizeName:       prize.Name,
			CreatedAt:       now,
		})
	}

	// No winner has been written yet, so stopping here leaves no trace.
	if err := ctx.Err(); err != nil {
		return err
	}

	committed, err := mutator.Apply(ctx, ownerID, prize.ID, batch)
	result.BatchID = batchID.String()
	result.Winners = committed
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.NewPersistence("DRAW_PERSIST", "record winners", err)
		}
		logger.Errorf("draw: owner %s prize %s batch %s: recorded %d of %d: %v",
			ownerID, prize.ID, batchID, len(committed), len(batch), err)
		return &PartialCommitError{Requested: len(batch), Committed: committed, Batch: batch, Err: err}
	}

	// The winners are recorded; a failed re-read only leaves the prize stale.
	if after, err := s.GetPrize(ctx, ownerID, prize.ID); err == nil {
		result.Prize = after
	} else {
		logger.Warningf("draw: reload prize %s after batch %s: %v", prize.ID, batchID, err)
	}
	return nil
}

func recordedFor(winners []models.Winner, prizeID string) int {
	n := 0
	for _, w := range winners {
		if w.PrizeID == prizeID {
			n++
		}
	}
	return n
}

// WinnerID derives a stable winner id, so replaying a batch hits the same rows.
func WinnerID(batchID uuid.UUID, participantID, prizeID string) string {
	return uuid.NewSHA1(batchID, []byte(participantID+"/"+prizeID)).String()
}
