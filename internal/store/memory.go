package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/models"

	"github.com/google/logger"
)

// ownerSession holds the data for a single owner.
type ownerSession struct {
	prizes       []models.Prize
	participants []models.Participant
	winners      []models.Winner
	winnerIDs    map[string]struct{}
	lastActivity atomic.Int64 // unix nanos, refreshed by reads under RLock too
}

func (s *ownerSession) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *ownerSession) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

// Memory keeps every owner's data in process. It has no transactions; each
// call is atomic on its own.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*ownerSession // Key: ownerID
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*ownerSession),
		now:      time.Now,
	}
}

// session returns the session for an owner, creating one if it doesn't exist.
// Callers must hold m.mu for writing.
func (m *Memory) session(ownerID string) *ownerSession {
	s, ok := m.sessions[ownerID]
	if !ok {
		s = &ownerSession{winnerIDs: make(map[string]struct{})}
		m.sessions[ownerID] = s
	}
	s.touch(m.now())
	return s
}

// peek returns the session without creating it, but marks an existing one
// as active. Callers must hold m.mu, for reading is enough.
func (m *Memory) peek(ownerID string) *ownerSession {
	s := m.sessions[ownerID]
	if s != nil {
		s.touch(m.now())
	}
	return s
}

func (m *Memory) GetPrize(_ context.Context, ownerID, id string) (models.Prize, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.peek(ownerID); s != nil {
		for _, p := range s.prizes {
			if p.ID == id {
				return p, nil
			}
		}
	}
	return models.Prize{}, prizeNotFound(id)
}

func (m *Memory) ListPrizes(_ context.Context, ownerID string) ([]models.Prize, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.peek(ownerID)
	if s == nil {
		return []models.Prize{}, nil
	}
	return append([]models.Prize{}, s.prizes...), nil
}

func (m *Memory) CreatePrize(_ context.Context, p models.Prize) error {
	if err := checkCounts(p.TotalCount, p.RemainingCount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(p.OwnerID)
	s.prizes = append(s.prizes, p)
	return nil
}

func (m *Memory) UpdatePrize(_ context.Context, p models.Prize) error {
	if err := checkCounts(p.TotalCount, p.RemainingCount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(p.OwnerID)
	for i := range s.prizes {
		if s.prizes[i].ID == p.ID {
			p.CreatedAt = s.prizes[i].CreatedAt
			p.UpdatedAt = m.now()
			s.prizes[i] = p
			return nil
		}
	}
	return prizeNotFound(p.ID)
}

func (m *Memory) DeletePrize(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	for i := range s.prizes {
		if s.prizes[i].ID == id {
			s.prizes = append(s.prizes[:i], s.prizes[i+1:]...)
			return nil
		}
	}
	return prizeNotFound(id)
}

func (m *Memory) DeleteAllPrizes(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(ownerID).prizes = nil
	return nil
}

func (m *Memory) UpdatePrizeRemaining(_ context.Context, ownerID, id string, expected, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	for i := range s.prizes {
		p := &s.prizes[i]
		if p.ID != id {
			continue
		}
		if p.RemainingCount != expected {
			return apperrors.ErrRemainingConflict
		}
		if err := checkCounts(p.TotalCount, value); err != nil {
			return err
		}
		p.RemainingCount = value
		p.UpdatedAt = m.now()
		return nil
	}
	return prizeNotFound(id)
}

func (m *Memory) ResetPrizeCounts(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	now := m.now()
	for i := range s.prizes {
		s.prizes[i].RemainingCount = s.prizes[i].TotalCount
		s.prizes[i].UpdatedAt = now
	}
	return nil
}

func (m *Memory) ListParticipants(_ context.Context, ownerID string) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.peek(ownerID)
	if s == nil {
		return []models.Participant{}, nil
	}
	return append([]models.Participant{}, s.participants...), nil
}

func (m *Memory) CreateParticipants(_ context.Context, ownerID string, ps []models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	for _, p := range ps {
		p.OwnerID = ownerID
		s.participants = append(s.participants, p)
	}
	return nil
}

func (m *Memory) DeleteParticipant(_ context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	for i := range s.participants {
		if s.participants[i].ID == id {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFound(apperrors.ErrParticipantNotFound.Code, fmt.Sprintf("participant %s does not exist", id))
}

func (m *Memory) DeleteAllParticipants(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(ownerID).participants = nil
	return nil
}

func (m *Memory) ListWinners(_ context.Context, ownerID string) ([]models.Winner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.peek(ownerID)
	if s == nil {
		return []models.Winner{}, nil
	}
	return append([]models.Winner{}, s.winners...), nil
}

func (m *Memory) CreateWinner(_ context.Context, w models.Winner) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(w.OwnerID)
	if _, dup := s.winnerIDs[w.ID]; dup {
		return false, nil
	}
	if !containsPrize(s.prizes, w.PrizeID) {
		return false, prizeNotFound(w.PrizeID)
	}
	if !containsParticipant(s.participants, w.ParticipantID) {
		return false, apperrors.NewNotFound(apperrors.ErrParticipantNotFound.Code,
			fmt.Sprintf("participant %s does not exist", w.ParticipantID))
	}
	s.winners = append(s.winners, w)
	s.winnerIDs[w.ID] = struct{}{}
	return true, nil
}

func (m *Memory) DeleteAllWinners(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(ownerID)
	s.winners = nil
	s.winnerIDs = make(map[string]struct{})
	return nil
}

// EvictIdle removes owners that have been inactive for longer than maxIdle
// and returns how many were dropped.
func (m *Memory) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for ownerID, s := range m.sessions {
		if s.idleFor(m.now()) > maxIdle {
			delete(m.sessions, ownerID)
			evicted++
			logger.Infof("store: evicted idle owner %s", ownerID)
		}
	}
	return evicted
}

func containsPrize(prizes []models.Prize, id string) bool {
	for _, p := range prizes {
		if p.ID == id {
			return true
		}
	}
	return false
}

func containsParticipant(participants []models.Participant, id string) bool {
	for _, p := range participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

func prizeNotFound(id string) error {
	return apperrors.NewNotFound(apperrors.ErrPrizeNotFound.Code, fmt.Sprintf("prize %s does not exist", id))
}

func checkCounts(total, remaining int) error {
	if total < 0 || remaining < 0 || remaining > total {
		return apperrors.NewInvalidRequest("PRIZE_COUNT_RANGE",
			fmt.Sprintf("remaining count %d must be within [0, %d]", remaining, total))
	}
	return nil
}
