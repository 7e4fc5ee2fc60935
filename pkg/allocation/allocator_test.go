package allocation_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/wingfox/pkg/allocation"
	"github.com/Ramsey-B/wingfox/pkg/models"
)

func TestAllocate_GreedyCap(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	selected := allocation.Allocate([]allocation.CandidatePair{
		allocation.NewCandidatePair(b, c, 0.7),
		allocation.NewCandidatePair(a, b, 0.9),
		allocation.NewCandidatePair(a, c, 0.8),
	}, 1)

	require.Len(t, selected, 1)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{selected[0].UserA, selected[0].UserB})
}

func TestAllocate_NeverExceedsCap(t *testing.T) {
	users := make([]uuid.UUID, 6)
	for i := range users {
		users[i] = uuid.New()
	}
	var pairs []allocation.CandidatePair
	score := 1.0
	for i := range users {
		for j := i + 1; j < len(users); j++ {
			pairs = append(pairs, allocation.NewCandidatePair(users[i], users[j], score))
			score -= 0.01
		}
	}

	for _, maxPerUser := range []int{1, 2, 3} {
		counts := map[uuid.UUID]int{}
		for _, pair := range allocation.Allocate(pairs, maxPerUser) {
			counts[pair.UserA]++
			counts[pair.UserB]++
		}
		for user, n := range counts {
			assert.LessOrEqual(t, n, maxPerUser, user.String())
		}
	}
}

func TestAllocate_StableTies(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	first := allocation.NewCandidatePair(a, b, 0.5)
	second := allocation.NewCandidatePair(a, c, 0.5)
	third := allocation.NewCandidatePair(c, d, 0.5)

	selected := allocation.Allocate([]allocation.CandidatePair{first, second, third}, 1)
	require.Len(t, selected, 2)
	assert.Equal(t, first.UserA, selected[0].UserA)
	assert.Equal(t, first.UserB, selected[0].UserB)
	assert.Equal(t, third.UserA, selected[1].UserA)
}

func TestAllocate_Empty(t *testing.T) {
	assert.Empty(t, allocation.Allocate(nil, 2))
	assert.Empty(t, allocation.Allocate([]allocation.CandidatePair{allocation.NewCandidatePair(uuid.New(), uuid.New(), 1)}, 0))
}

func TestFilterCandidates(t *testing.T) {
	mk := func(gender string, seeking ...string) *models.Profile {
		return &models.Profile{UserID: uuid.New(), Gender: gender, Seeking: seeking, Active: true}
	}
	alice, bob, carol, dave, erin := mk("f", "m"), mk("m", "f"), mk("f", "m"), mk("m", "f"), mk("f", "f")
	profiles := map[uuid.UUID]*models.Profile{}
	for _, p := range []*models.Profile{alice, bob, carol, dave, erin} {
		profiles[p.UserID] = p
	}

	pairs := []allocation.CandidatePair{
		allocation.NewCandidatePair(alice.UserID, bob.UserID, 0),   // existing
		allocation.NewCandidatePair(carol.UserID, bob.UserID, 0),   // blocked by bob
		allocation.NewCandidatePair(carol.UserID, dave.UserID, 0),  // kept
		allocation.NewCandidatePair(alice.UserID, dave.UserID, 0),  // kept
		allocation.NewCandidatePair(erin.UserID, dave.UserID, 0),   // gender
		allocation.NewCandidatePair(alice.UserID, alice.UserID, 0), // self
		allocation.NewCandidatePair(alice.UserID, uuid.New(), 0),   // unknown profile
	}

	kept, steps := allocation.FilterCandidates(pairs,
		[][2]uuid.UUID{{bob.UserID, alice.UserID}},
		[]models.Block{{BlockerID: bob.UserID, BlockedID: carol.UserID}},
		profiles)

	require.Len(t, kept, 2)
	require.Len(t, steps, 4)
	assert.Equal(t, allocation.Step{Name: "self", Initial: 7, Dropped: 1, Left: 6}, steps[0])
	assert.Equal(t, allocation.Step{Name: "existing", Initial: 6, Dropped: 1, Left: 5}, steps[1])
	assert.Equal(t, allocation.Step{Name: "blocked", Initial: 5, Dropped: 1, Left: 4}, steps[2])
	assert.Equal(t, allocation.Step{Name: "gender", Initial: 4, Dropped: 2, Left: 2}, steps[3])
}
