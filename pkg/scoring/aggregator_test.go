package scoring_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
)

func profile(personality models.Personality) *models.Profile {
	return &models.Profile{
		UserID:      uuid.New(),
		Gender:      "f",
		Seeking:     []string{"m"},
		Personality: database.NewJSONB(personality),
		Active:      true,
	}
}

func withQuiz(p *models.Profile, quiz models.QuizAnswers) *models.Profile {
	p.Quiz = database.NewJSONB(&quiz)
	return p
}

func withStyle(p *models.Profile, style models.InteractionStyle) *models.Profile {
	p.InteractionStyle = database.NewJSONB(&style)
	return p
}

func byFeature(scores []models.FeatureScore) map[int]models.FeatureScore {
	out := map[int]models.FeatureScore{}
	for _, s := range scores {
		out[s.FeatureID] = s
	}
	return out
}

func TestComputeProfileFeatureScores_IdenticalAxesWithoutInteractionData(t *testing.T) {
	axes := models.Personality{Openness: 0.7, Extraversion: 0.3, Agreeableness: 0.9}
	a, b := profile(axes), profile(axes)

	scores := scoring.ComputeProfileFeatureScores(uuid.New(), a, b)
	require.Len(t, scores, features.Count)

	got := byFeature(scores)
	similarity := got[features.SimilarityComplementarity]
	assert.InDelta(t, 1.0, similarity.RawScore, 1e-9)
	assert.InDelta(t, 1.0, similarity.Evidence.Data["axis_similarity"], 1e-9)

	for _, id := range []int{
		features.MereExposure,
		features.Reciprocity,
		features.AttachmentCompatibility,
		features.EmotionalResponsiveness,
		features.CommunicationStyle,
	} {
		assert.InDelta(t, 0.5, got[id].RawScore, 1e-9, features.Name(id))
		assert.Equal(t, "interaction_style", got[id].Evidence.Data["missing"], features.Name(id))
	}

	for _, id := range []int{features.HumorSharing, features.SelfEsteemStability, features.IntimacyPacing} {
		assert.InDelta(t, 0.5, got[id].RawScore, 1e-9)
		assert.Equal(t, true, got[id].Evidence.Data["placeholder"])
	}
}

func TestComputeProfileFeatureScores_Bounds(t *testing.T) {
	a := withStyle(withQuiz(profile(models.Personality{Openness: 3, Extraversion: -1, Agreeableness: 0.5}),
		models.QuizAnswers{SelfDisclosure: 2, ConflictStyle: "competing", Values: []string{"family"}, LifeGoals: []string{"kids"}, GrowthOrientation: 5}),
		models.InteractionStyle{ActiveHours: []int{20, 21}, InitiationRate: 4, AvgResponseMinutes: -3, AvgMessageLength: 80, EmotionWordRate: 9})
	b := withStyle(withQuiz(profile(models.Personality{}),
		models.QuizAnswers{SelfDisclosure: -1, ConflictStyle: "avoiding"}),
		models.InteractionStyle{})

	for _, score := range scoring.ComputeProfileFeatureScores(uuid.New(), a, b) {
		assert.GreaterOrEqual(t, score.RawScore, 0.0)
		assert.LessOrEqual(t, score.RawScore, 1.0)
		assert.Equal(t, score.RawScore, score.NormalizedScore)
		assert.GreaterOrEqual(t, score.Confidence, 0.0)
		assert.LessOrEqual(t, score.Confidence, 1.0)
		assert.Equal(t, models.PhaseProfile, score.SourcePhase)
	}
}

func TestComputeProfileFeatureScores_QuizFeatures(t *testing.T) {
	a := withQuiz(profile(models.Personality{}), models.QuizAnswers{
		SelfDisclosure:    0.8,
		ConflictStyle:     "collaborating",
		Values:            []string{"Family", "honesty"},
		LifeGoals:         []string{"travel", "kids"},
		GrowthOrientation: 0.9,
	})
	b := withQuiz(profile(models.Personality{}), models.QuizAnswers{
		SelfDisclosure:    0.4,
		ConflictStyle:     "Compromising",
		Values:            []string{"family", "career"},
		LifeGoals:         []string{"kids"},
		GrowthOrientation: 0.7,
	})

	got := byFeature(scoring.ComputeProfileFeatureScores(uuid.New(), a, b))
	assert.InDelta(t, 0.5*0.4+0.5*0.6, got[features.SelfDisclosure].RawScore, 1e-9)
	assert.InDelta(t, 1.0/3.0, got[features.ValuesAlignment].RawScore, 1e-9)
	assert.InDelta(t, 0.5, got[features.LifeVision].RawScore, 1e-9)
	assert.InDelta(t, 0.8, got[features.GrowthOrientation].RawScore, 1e-9)
	assert.InDelta(t, 0.8, got[features.ConflictResolution].RawScore, 1e-9)
	assert.Equal(t, scoring.ConfidenceQuiz, got[features.ConflictResolution].Confidence)
}

func TestCalculateLayerScores(t *testing.T) {
	t.Run("empty layers are neutral", func(t *testing.T) {
		result := scoring.CalculateLayerScores(map[int]float64{})
		assert.Equal(t, 0.5, result.Layer1)
		assert.Equal(t, 0.5, result.Layer2)
		assert.Equal(t, 0.5, result.Layer3)
		assert.Equal(t, 50, result.FinalScore)
	})

	t.Run("weights the layer means", func(t *testing.T) {
		result := scoring.CalculateLayerScores(map[int]float64{
			1: 1.0, 2: 0.0,
			5:  0.8,
			12: 0.6, 13: 0.4,
		})
		assert.InDelta(t, 0.5, result.Layer1, 1e-9)
		assert.InDelta(t, 0.8, result.Layer2, 1e-9)
		assert.InDelta(t, 0.5, result.Layer3, 1e-9)
		// 100 * (0.1 + 0.4 + 0.15)
		assert.Equal(t, 65, result.FinalScore)
		assert.Len(t, result.PerFeature, 5)
	})

	t.Run("clamps inputs and ignores unknown features", func(t *testing.T) {
		best := map[int]float64{99: 0.0}
		for _, f := range features.All() {
			best[f.ID] = 7
		}
		result := scoring.CalculateLayerScores(best)
		assert.Equal(t, 100, result.FinalScore)
		assert.NotContains(t, result.PerFeature, 99)
	})
}

func TestDetectDealbreakers_ForcesZero(t *testing.T) {
	best := map[int]float64{}
	for _, f := range features.All() {
		best[f.ID] = 0.95
	}
	best[features.SelfDisclosure] = 0.10

	result := scoring.DetectDealbreakers(best)
	assert.True(t, result.Triggered)
	assert.Equal(t, []int{features.SelfDisclosure}, result.FeatureIDs)
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0], "self_disclosure")

	eval := scoring.Evaluate(best)
	assert.Greater(t, eval.Layers.FinalScore, 80)
	assert.Equal(t, 0, eval.FinalScore)
	assert.Equal(t, result.Reasons, eval.LayerScores().Dealbreakers)
}

func TestDetectDealbreakers_Thresholds(t *testing.T) {
	assert.False(t, scoring.DetectDealbreakers(map[int]float64{
		features.SelfDisclosure:     0.15,
		features.ConflictResolution: 0.20,
	}).Triggered)

	result := scoring.DetectDealbreakers(map[int]float64{
		features.SelfDisclosure:     0.149,
		features.ConflictResolution: 0.199,
	})
	assert.Equal(t, []int{features.SelfDisclosure, features.ConflictResolution}, result.FeatureIDs)

	assert.False(t, scoring.DetectDealbreakers(map[int]float64{}).Triggered)
}

func TestSelectBest(t *testing.T) {
	matchID := uuid.New()
	now := time.Now()
	score := func(feature int, phase models.Phase, value, confidence float64, updated time.Time) models.FeatureScore {
		return models.FeatureScore{
			MatchID: matchID, FeatureID: feature, RawScore: value, NormalizedScore: value,
			Confidence: confidence, SourcePhase: phase, UpdatedAt: updated,
		}
	}

	best := scoring.SelectBest([]models.FeatureScore{
		score(3, models.PhaseProfile, 0.2, 0.5, now),
		score(3, models.PhaseConversation, 0.9, 0.7, now.Add(-time.Hour)),
		// equal confidence: later phase wins even when written first
		score(7, models.PhaseConversation, 0.8, 0.6, now.Add(-time.Minute)),
		score(7, models.PhaseProfile, 0.3, 0.6, now),
		score(14, models.PhaseConversation, 0.7, 0.6, now),
		score(14, models.PhaseProfile, 0.1, 0.6, now),
		// equal confidence and phase: most recent wins
		score(9, models.PhaseProfile, 0.2, 0.6, now.Add(-time.Minute)),
		score(9, models.PhaseProfile, 0.4, 0.6, now),
	})

	require.Len(t, best, 4)
	assert.Equal(t, models.PhaseConversation, best[3].SourcePhase)
	assert.Equal(t, models.PhaseConversation, best[7].SourcePhase)
	assert.Equal(t, models.PhaseConversation, best[14].SourcePhase)
	assert.InDelta(t, 0.4, best[9].NormalizedScore, 1e-9)

	values := scoring.BestValues(best)
	assert.InDelta(t, 0.9, values[3], 1e-9)
}

func TestSelectBest_IndependentOfWriteOrder(t *testing.T) {
	matchID := uuid.New()
	earlier := time.Now().Add(-time.Hour)
	later := time.Now()
	profile := func(updated time.Time) models.FeatureScore {
		return models.FeatureScore{MatchID: matchID, FeatureID: features.SelfDisclosure, NormalizedScore: 0.5,
			Confidence: scoring.ConfidenceMissing, SourcePhase: models.PhaseProfile, UpdatedAt: updated}
	}
	conversation := func(updated time.Time) models.FeatureScore {
		return models.FeatureScore{MatchID: matchID, FeatureID: features.SelfDisclosure, NormalizedScore: 0.5,
			Confidence: scoring.ConfidenceMissing, SourcePhase: models.PhaseConversation, UpdatedAt: updated}
	}

	// new match: conversation scores written before the profile scores
	newMatch := scoring.SelectBest([]models.FeatureScore{conversation(earlier), profile(later)})
	// batch match: profile scores written before the conversation scores
	batchMatch := scoring.SelectBest([]models.FeatureScore{profile(earlier), conversation(later)})

	assert.Equal(t, models.PhaseConversation, newMatch[features.SelfDisclosure].SourcePhase)
	assert.Equal(t, models.PhaseConversation, batchMatch[features.SelfDisclosure].SourcePhase)
}

func TestBlendedScore(t *testing.T) {
	assert.Equal(t, 64, scoring.BlendedScore(40, 80))
	assert.Equal(t, 100, scoring.BlendedScore(300, 300))
	assert.Equal(t, 0, scoring.BlendedScore(-10, -10))
}
