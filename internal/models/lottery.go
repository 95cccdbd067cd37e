package models

import "time"

// Prize represents a single prize category in the lottery.
// RemainingCount always stays within [0, TotalCount]; it only goes down through
// draws and is restored to TotalCount by a reset.
type Prize struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"-"`
	Name           string    `json:"name"`
	TotalCount     int       `json:"totalCount"`
	RemainingCount int       `json:"remainingCount"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Drawn is the number of units already handed out.
func (p Prize) Drawn() int {
	return p.TotalCount - p.RemainingCount
}

// State reports where the prize is in its draw lifecycle.
func (p Prize) State() PrizeState {
	switch {
	case p.RemainingCount <= 0:
		return PrizeExhausted
	case p.RemainingCount >= p.TotalCount:
		return PrizeUntouched
	default:
		return PrizePartiallyDrawn
	}
}

type PrizeState string

const (
	PrizeUntouched      PrizeState = "untouched"
	PrizePartiallyDrawn PrizeState = "partially_drawn"
	PrizeExhausted      PrizeState = "exhausted"
)

// Participant represents a person entering the lottery.
// There is no stored "has won" flag; see ParticipantStatus.
type Participant struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"-"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ParticipantStatus is a participant with its won status derived from the
// current winner records.
type ParticipantStatus struct {
	Participant
	HasWon   bool     `json:"hasWon"`
	PrizeIDs []string `json:"prizeIds,omitempty"`
}

// Winner stores the outcome of a single draw, linking a participant to a prize.
// Names are captured when the draw happens so later renames do not rewrite history.
type Winner struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"-"`
	BatchID         string    `json:"batchId"`
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	PrizeID         string    `json:"prizeId"`
	PrizeName       string    `json:"prizeName"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Event types pushed to connected screens.
const (
	EventDraw  = "draw"
	EventReset = "reset"
	EventClear = "clear"
)

// Event announces a committed change to the lottery state. Draw events carry
// the final winners only.
type Event struct {
	Type    string    `json:"type"`
	Prize   *Prize    `json:"prize,omitempty"`
	Winners []Winner  `json:"winners,omitempty"`
	At      time.Time `json:"at"`
}
