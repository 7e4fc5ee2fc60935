package allocation

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/models"
)

// Step reports how many candidates one filter removed
type Step struct {
	Name    string `json:"name"`
	Initial int    `json:"initial"`
	Dropped int    `json:"dropped"`
	Left    int    `json:"left"`
}

type filter struct {
	name string
	keep func(CandidatePair) bool
}

// FilterCandidates drops self pairs, pairs that already have a match, pairs blocked in either
// direction and pairs that are not mutually gender eligible. Profiles missing from profiles
// make a pair ineligible.
func FilterCandidates(
	pairs []CandidatePair,
	existing [][2]uuid.UUID,
	blocks []models.Block,
	profiles map[uuid.UUID]*models.Profile,
) ([]CandidatePair, []Step) {
	existingSet := make(map[[2]uuid.UUID]bool, len(existing))
	for _, pair := range existing {
		a, b := models.OrderPair(pair[0], pair[1])
		existingSet[[2]uuid.UUID{a, b}] = true
	}
	blockedSet := make(map[[2]uuid.UUID]bool, len(blocks))
	for _, block := range blocks {
		a, b := models.OrderPair(block.BlockerID, block.BlockedID)
		blockedSet[[2]uuid.UUID{a, b}] = true
	}

	filters := []filter{
		{name: "self", keep: func(p CandidatePair) bool { return p.UserA != p.UserB }},
		{name: "existing", keep: func(p CandidatePair) bool { return !existingSet[p.key()] }},
		{name: "blocked", keep: func(p CandidatePair) bool { return !blockedSet[p.key()] }},
		{name: "gender", keep: func(p CandidatePair) bool { return genderEligible(profiles[p.UserA], profiles[p.UserB]) }},
	}

	left := pairs
	steps := make([]Step, 0, len(filters))
	for _, f := range filters {
		initial := len(left)
		kept := make([]CandidatePair, 0, initial)
		for _, pair := range left {
			if f.keep(pair) {
				kept = append(kept, pair)
			}
		}
		steps = append(steps, Step{Name: f.name, Initial: initial, Dropped: initial - len(kept), Left: len(kept)})
		left = kept
	}
	return left, steps
}

func genderEligible(a, b *models.Profile) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Seeks(b.Gender) && b.Seeks(a.Gender)
}
