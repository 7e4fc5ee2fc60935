// Package allocation selects the daily set of matches from scored candidate pairs.
package allocation

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
)

// CandidatePair is a possible match with its profile-phase score
type CandidatePair struct {
	UserA uuid.UUID `json:"user_a"`
	UserB uuid.UUID `json:"user_b"`
	Score float64   `json:"score"`

	// MatchID is reserved up front so computed feature scores can reference it
	MatchID       uuid.UUID             `json:"-"`
	FeatureScores []models.FeatureScore `json:"-"`
	Evaluation    *scoring.Evaluation   `json:"-"`
}

// NewCandidatePair orders the users canonically
func NewCandidatePair(a, b uuid.UUID, score float64) CandidatePair {
	userA, userB := models.OrderPair(a, b)
	return CandidatePair{UserA: userA, UserB: userB, Score: score}
}

func (p CandidatePair) key() [2]uuid.UUID {
	a, b := models.OrderPair(p.UserA, p.UserB)
	return [2]uuid.UUID{a, b}
}

// Allocate greedily accepts pairs from the highest score down while both users are under
// maxPerUser. Equal scores keep their input order.
func Allocate(pairs []CandidatePair, maxPerUser int) []CandidatePair {
	if maxPerUser <= 0 || len(pairs) == 0 {
		return nil
	}

	sorted := make([]CandidatePair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	assigned := map[uuid.UUID]int{}
	var selected []CandidatePair
	for _, pair := range sorted {
		if pair.UserA == pair.UserB {
			continue
		}
		if assigned[pair.UserA] >= maxPerUser || assigned[pair.UserB] >= maxPerUser {
			continue
		}
		assigned[pair.UserA]++
		assigned[pair.UserB]++
		selected = append(selected, pair)
	}
	return selected
}
