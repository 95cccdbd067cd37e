package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/draw"
	"prizedraw/internal/models"
	"prizedraw/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Notifier receives committed lottery events, e.g. to push them to screens.
type Notifier interface {
	Publish(ownerID string, ev models.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, models.Event) {}

// PrizeInput is the data needed to create a prize.
type PrizeInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	TotalCount int    `json:"totalCount" validate:"gt=0"`
	ImageURL   string `json:"imageUrl" validate:"omitempty,url"`
}

// PrizeUpdate changes only the fields that are set.
type PrizeUpdate struct {
	Name       *string `json:"name"`
	TotalCount *int    `json:"totalCount"`
	ImageURL   *string `json:"imageUrl"`
}

type ParticipantInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	Department string `json:"department" validate:"max=100"`
}

// BatchResult reports what a batch import created and how many entries it
// skipped as blank or duplicate.
type BatchResult[T any] struct {
	Created []T `json:"created"`
	Skipped int `json:"skipped"`
}

// Snapshot is everything a screen needs to render one owner's lottery.
type Snapshot struct {
	Prizes       []models.Prize             `json:"prizes"`
	Participants []models.ParticipantStatus `json:"participants"`
	Winners      []models.Winner            `json:"winners"`
}

// LotteryService manages the lotteries of many owners on top of a Store.
// Every method is scoped to one owner.
type LotteryService struct {
	store      store.Store
	engine     *draw.Engine
	controller *draw.Controller
	notifier   Notifier
	now        func() time.Time
}

// NewLotteryService wires the service. notifier may be nil.
func NewLotteryService(s store.Store, engine *draw.Engine, notifier Notifier) *LotteryService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &LotteryService{
		store:      s,
		engine:     engine,
		controller: draw.NewController(s, engine.Locker()),
		notifier:   notifier,
		now:        time.Now,
	}
}

// ListPrizes returns the prizes for a specific owner in creation order.
func (s *LotteryService) ListPrizes(ctx context.Context, ownerID string) ([]models.Prize, error) {
	return s.store.ListPrizes(ctx, ownerID)
}

// AddPrize adds a new untouched prize for a specific owner.
func (s *LotteryService) AddPrize(ctx context.Context, ownerID string, in PrizeInput) (models.Prize, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := check(in); err != nil {
		return models.Prize{}, err
	}
	p := s.newPrize(ownerID, in)
	if err := s.store.CreatePrize(ctx, p); err != nil {
		return models.Prize{}, err
	}
	return p, nil
}

// AddPrizes imports prizes in one go. Names are trimmed; blank names and
// names that already exist, in the store or earlier in the input, are skipped.
func (s *LotteryService) AddPrizes(ctx context.Context, ownerID string, in []PrizeInput) (BatchResult[models.Prize], error) {
	res := BatchResult[models.Prize]{Created: []models.Prize{}}
	existing, err := s.store.ListPrizes(ctx, ownerID)
	if err != nil {
		return res, err
	}
	seen := make(map[string]struct{}, len(existing)+len(in))
	for _, p := range existing {
		seen[strings.TrimSpace(p.Name)] = struct{}{}
	}

	var fresh []models.Prize
	for _, item := range in {
		item.Name = strings.TrimSpace(item.Name)
		if _, dup := seen[item.Name]; dup || item.Name == "" {
			res.Skipped++
			continue
		}
		if err := check(item); err != nil {
			return res, err
		}
		seen[item.Name] = struct{}{}
		fresh = append(fresh, s.newPrize(ownerID, item))
	}

	_, err = store.RunInTx(ctx, s.store, func(tx store.Store) error {
		for _, p := range fresh {
			if err := tx.CreatePrize(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Created = append(res.Created, fresh...)
	logger.Infof("services: owner %s imported %d prizes, skipped %d", ownerID, len(fresh), res.Skipped)
	return res, nil
}

func (s *LotteryService) newPrize(ownerID string, in PrizeInput) models.Prize {
	now := s.now()
	return models.Prize{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Name:           in.Name,
		TotalCount:     in.TotalCount,
		RemainingCount: in.TotalCount,
		ImageURL:       in.ImageURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// UpdatePrize renames a prize, replaces its image or changes its total.
// A new total keeps the number already drawn, so it may not drop below it.
func (s *LotteryService) UpdatePrize(ctx context.Context, ownerID, id string, u PrizeUpdate) (models.Prize, error) {
	unlock, err := s.engine.Locker().Lock(ctx, draw.PrizeKey(ownerID, id))
	if err != nil {
		return models.Prize{}, err
	}
	defer unlock()

	p, err := s.store.GetPrize(ctx, ownerID, id)
	if err != nil {
		return models.Prize{}, err
	}

	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if err := checkVar("name", name, "required,max=100"); err != nil {
			return models.Prize{}, err
		}
		p.Name = name
	}
	if u.ImageURL != nil {
		if err := checkVar("imageUrl", *u.ImageURL, "omitempty,url"); err != nil {
			return models.Prize{}, err
		}
		p.ImageURL = *u.ImageURL
	}
	if u.TotalCount != nil {
		total := *u.TotalCount
		if err := checkVar("totalCount", total, "gt=0"); err != nil {
			return models.Prize{}, err
		}
		drawn := p.Drawn()
		if total < drawn {
			return models.Prize{}, apperrors.NewInvalidRequest("TOTAL_BELOW_DRAWN",
				fmt.Sprintf("total %d is below the %d already drawn", total, drawn))
		}
		p.TotalCount = total
		p.RemainingCount = total - drawn
	}

	if err := s.store.UpdatePrize(ctx, p); err != nil {
		return models.Prize{}, err
	}
	return s.store.GetPrize(ctx, ownerID, id)
}

// DeletePrize removes a prize. Winners already recorded keep its name.
func (s *LotteryService) DeletePrize(ctx context.Context, ownerID, id string) error {
	unlock, err := s.engine.Locker().Lock(ctx, draw.PrizeKey(ownerID, id))
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.DeletePrize(ctx, ownerID, id)
}

// ListParticipants returns the roster with each participant's won status.
func (s *LotteryService) ListParticipants(ctx context.Context, ownerID string) ([]models.ParticipantStatus, error) {
	var (
		participants []models.Participant
		winners      []models.Winner
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		participants, err = s.store.ListParticipants(gctx, ownerID)
		return err
	})
	g.Go(func() (err error) {
		winners, err = s.store.ListWinners(gctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return draw.Statuses(participants, winners), nil
}

// AddParticipant adds one participant. Two people may share a name.
func (s *LotteryService) AddParticipant(ctx context.Context, ownerID string, in ParticipantInput) (models.Participant, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Department = strings.TrimSpace(in.Department)
	if err := check(in); err != nil {
		return models.Participant{}, err
	}
	p := s.newParticipant(ownerID, in)
	if err := s.store.CreateParticipants(ctx, ownerID, []models.Participant{p}); err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// AddParticipants imports a roster with the same trimming and de-duplication
// rules as AddPrizes.
func (s *LotteryService) AddParticipants(ctx context.Context, ownerID string, in []ParticipantInput) (BatchResult[models.Participant], error) {
	res := BatchResult[models.Participant]{Created: []models.Participant{}}
	existing, err := s.store.ListParticipants(ctx, ownerID)
	if err != nil {
		return res, err
	}
	seen := make(map[string]struct{}, len(existing)+len(in))
	for _, p := range existing {
		seen[strings.TrimSpace(p.Name)] = struct{}{}
	}

	var fresh []models.Participant
	for _, item := range in {
		item.Name = strings.TrimSpace(item.Name)
		item.Department = strings.TrimSpace(item.Department)
		if _, dup := seen[item.Name]; dup || item.Name == "" {
			res.Skipped++
			continue
		}
		if err := check(item); err != nil {
			return res, err
		}
		seen[item.Name] = struct{}{}
		fresh = append(fresh, s.newParticipant(ownerID, item))
	}
	if len(fresh) == 0 {
		return res, nil
	}

	if err := s.store.CreateParticipants(ctx, ownerID, fresh); err != nil {
		return res, err
	}
	res.Created = fresh
	logger.Infof("services: owner %s imported %d participants, skipped %d", ownerID, len(fresh), res.Skipped)
	return res, nil
}

func (s *LotteryService) newParticipant(ownerID string, in ParticipantInput) models.Participant {
	return models.Participant{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       in.Name,
		Department: in.Department,
		CreatedAt:  s.now(),
	}
}

func (s *LotteryService) DeleteParticipant(ctx context.Context, ownerID, id string) error {
	return s.store.DeleteParticipant(ctx, ownerID, id)
}

func (s *LotteryService) DeleteAllParticipants(ctx context.Context, ownerID string) error {
	return s.store.DeleteAllParticipants(ctx, ownerID)
}

// ListWinners returns the winners for a specific owner, oldest first.
func (s *LotteryService) ListWinners(ctx context.Context, ownerID string) ([]models.Winner, error) {
	return s.store.ListWinners(ctx, ownerID)
}

// Snapshot loads prizes, roster and winners together.
func (s *LotteryService) Snapshot(ctx context.Context, ownerID string) (*Snapshot, error) {
	var (
		snap         Snapshot
		participants []models.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Prizes, err = s.store.ListPrizes(gctx, ownerID)
		return err
	})
	g.Go(func() (err error) {
		participants, err = s.store.ListParticipants(gctx, ownerID)
		return err
	})
	g.Go(func() (err error) {
		snap.Winners, err = s.store.ListWinners(gctx, ownerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.Participants = draw.Statuses(participants, snap.Winners)
	return &snap, nil
}

// Draw performs the lottery draw for a specific owner and prize and announces
// the winners.
func (s *LotteryService) Draw(ctx context.Context, ownerID string, req draw.Request) (*draw.Result, error) {
	res, err := s.engine.Draw(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}
	if len(res.Winners) > 0 {
		prize := res.Prize
		s.notifier.Publish(ownerID, models.Event{Type: models.EventDraw, Prize: &prize, Winners: res.Winners, At: s.now()})
	}
	return res, nil
}

// ResetLottery forgets every winner and restores all prize counts.
func (s *LotteryService) ResetLottery(ctx context.Context, ownerID string) error {
	if err := s.controller.Reset(ctx, ownerID); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, models.Event{Type: models.EventReset, At: s.now()})
	return nil
}

// ClearAll removes all data associated with a specific owner.
func (s *LotteryService) ClearAll(ctx context.Context, ownerID string) error {
	if err := s.controller.Clear(ctx, ownerID); err != nil {
		return err
	}
	s.notifier.Publish(ownerID, models.Event{Type: models.EventClear, At: s.now()})
	return nil
}

// CleanUpInactiveSessions drops owners idle for longer than maxIdle when the
// store keeps them in memory. It returns how many were dropped.
func (s *LotteryService) CleanUpInactiveSessions(maxIdle time.Duration) int {
	evictor, ok := s.store.(interface{ EvictIdle(time.Duration) int })
	if !ok {
		return 0
	}
	return evictor.EvictIdle(maxIdle)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return invalidField(verrs[0].Field(), verrs[0].Tag())
	}
	return apperrors.NewInvalidRequest("INVALID_INPUT", err.Error())
}

func checkVar(field string, v any, tag string) error {
	err := validate.Var(v, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return invalidField(field, verrs[0].Tag())
	}
	return apperrors.NewInvalidRequest("INVALID_INPUT", err.Error())
}

func invalidField(field, tag string) error {
	return apperrors.NewInvalidRequest("INVALID_"+strings.ToUpper(field),
		fmt.Sprintf("%s fails the %q rule", field, tag))
}
