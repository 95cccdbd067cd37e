// Package draw turns a prize and a participant roster into persisted winners.
package draw

import (
	"fmt"
	"strings"

	"prizedraw/internal/models"
)

// RepeatPolicy decides whether a previous win disqualifies a participant.
// It is set once per deployment and applies to every prize.
type RepeatPolicy int

const (
	// RepeatNone disqualifies anyone who has won anything.
	RepeatNone RepeatPolicy = iota
	// RepeatPerPrize only disqualifies participants from prizes they already won.
	RepeatPerPrize
)

func (p RepeatPolicy) String() string {
	if p == RepeatPerPrize {
		return "per_prize"
	}
	return "none"
}

// ParseRepeatPolicy accepts "none" (or empty) and "per_prize".
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RepeatNone, nil
	case "per_prize":
		return RepeatPerPrize, nil
	}
	return RepeatNone, fmt.Errorf("unknown repeat win policy %q", s)
}

// Eligible returns the participants that may win prizeID, in input order.
func Eligible(participants []models.Participant, winners []models.Winner, prizeID string, policy RepeatPolicy) []models.Participant {
	won := make(map[string]struct{}, len(winners))
	for _, w := range winners {
		if policy == RepeatPerPrize && w.PrizeID != prizeID {
			continue
		}
		won[w.ParticipantID] = struct{}{}
	}

	eligible := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if _, ok := won[p.ID]; !ok {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// Statuses derives won status for every participant from the winner records.
func Statuses(participants []models.Participant, winners []models.Winner) []models.ParticipantStatus {
	prizesByParticipant := make(map[string][]string)
	for _, w := range winners {
		prizesByParticipant[w.ParticipantID] = append(prizesByParticipant[w.ParticipantID], w.PrizeID)
	}

	out := make([]models.ParticipantStatus, 0, len(participants))
	for _, p := range participants {
		prizeIDs := prizesByParticipant[p.ID]
		out = append(out, models.ParticipantStatus{
			Participant: p,
			HasWon:      len(prizeIDs) > 0,
			PrizeIDs:    prizeIDs,
		})
	}
	return out
}
