package features_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/models"
)

func TestCatalog_LayerMembership(t *testing.T) {
	all := features.All()
	require.Len(t, all, features.Count)

	for _, f := range all {
		switch {
		case f.ID >= 1 && f.ID <= 4:
			assert.Equal(t, 1, f.Layer, f.Name)
		case f.ID >= 5 && f.ID <= 11:
			assert.Equal(t, 2, f.Layer, f.Name)
		default:
			assert.Equal(t, 3, f.Layer, f.Name)
		}
		assert.NotEmpty(t, f.EvidencePhases, f.Name)
	}

	assert.Len(t, features.ByLayer(1), 4)
	assert.Len(t, features.ByLayer(2), 7)
	assert.Len(t, features.ByLayer(3), 3)
}

func TestCatalog_Dealbreakers(t *testing.T) {
	dealbreakers := features.Dealbreakers()
	require.Len(t, dealbreakers, 2)
	assert.Equal(t, features.SelfDisclosure, dealbreakers[0].ID)
	assert.InDelta(t, 0.15, dealbreakers[0].DealbreakerThreshold, 1e-9)
	assert.Equal(t, features.ConflictResolution, dealbreakers[1].ID)
	assert.InDelta(t, 0.20, dealbreakers[1].DealbreakerThreshold, 1e-9)
}

func TestCatalog_LayerWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range features.LayerWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestCatalog_Lookup(t *testing.T) {
	f, ok := features.Get(features.Reciprocity)
	require.True(t, ok)
	assert.Equal(t, "reciprocity", f.Name)
	assert.True(t, f.Supports(models.PhaseConversation))
	_, ok = features.Get(15)
	assert.False(t, ok)

	_, ok = features.Get(0)
	assert.False(t, ok)
	assert.Equal(t, "", features.Name(99))

	all := features.All()
	all[0].Name = "mutated"
	assert.Equal(t, "similarity_complementarity", features.Name(1), "All returns a copy")
}
