package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/models"
)

// Confidence levels attached to profile-phase scores
const (
	ConfidenceQuiz        = 0.6
	ConfidenceInteraction = 0.5
	ConfidenceMissing     = 0.2
	ConfidencePlaceholder = 0.1

	// NeutralScore is used whenever evidence is not available yet
	NeutralScore = 0.5
)

// LayerResult is the layered breakdown of a set of best feature scores
type LayerResult struct {
	Layer1     float64         `json:"layer1"`
	Layer2     float64         `json:"layer2"`
	Layer3     float64         `json:"layer3"`
	FinalScore int             `json:"final_score"`
	PerFeature map[int]float64 `json:"per_feature"`
}

// DealbreakerResult lists the dealbreaker features that fired
type DealbreakerResult struct {
	Triggered  bool     `json:"triggered"`
	Reasons    []string `json:"reasons,omitempty"`
	FeatureIDs []int    `json:"feature_ids,omitempty"`
}

// Evaluation is the complete scoring outcome for one match
type Evaluation struct {
	Layers       LayerResult
	Dealbreakers DealbreakerResult
	// FinalScore is the layered score, forced to 0 when a dealbreaker fired
	FinalScore int
}

// LayerScores converts the evaluation into its persisted form
func (e Evaluation) LayerScores() *models.LayerScores {
	return &models.LayerScores{
		Layer1:       e.Layers.Layer1,
		Layer2:       e.Layers.Layer2,
		Layer3:       e.Layers.Layer3,
		PerFeature:   e.Layers.PerFeature,
		Dealbreakers: e.Dealbreakers.Reasons,
	}
}

// ComputeProfileFeatureScores derives the profile-phase scores of a pair.
// Every catalog feature gets exactly one score.
func ComputeProfileFeatureScores(matchID uuid.UUID, a, b *models.Profile) []models.FeatureScore {
	scores := make([]models.FeatureScore, 0, features.Count)
	add := func(featureID int, raw, confidence float64, evidence models.Evidence) {
		raw = models.Clamp01(raw)
		scores = append(scores, models.FeatureScore{
			MatchID:         matchID,
			FeatureID:       featureID,
			RawScore:        raw,
			NormalizedScore: raw,
			Confidence:      models.Clamp01(confidence),
			Evidence:        database.NewJSONB(evidence),
			SourcePhase:     models.PhaseProfile,
		})
	}
	missing := func(featureID int, source string) {
		add(featureID, NeutralScore, ConfidenceMissing, models.Evidence{"missing": source})
	}
	placeholder := func(featureID int) {
		add(featureID, NeutralScore, ConfidencePlaceholder, models.Evidence{"placeholder": true})
	}

	// layer 1
	axis := axisSimilarity(a.Personality.Data, b.Personality.Data)
	add(features.SimilarityComplementarity, axis, ConfidenceQuiz, models.Evidence{
		"axis_similarity": axis,
		"source":          "personality",
	})

	styleA, styleB := a.InteractionStyle.Data, b.InteractionStyle.Data
	if styleA == nil || styleB == nil {
		for _, id := range []int{features.MereExposure, features.Reciprocity} {
			missing(id, "interaction_style")
		}
	} else {
		overlap := jaccardInts(styleA.ActiveHours, styleB.ActiveHours)
		add(features.MereExposure, overlap, ConfidenceInteraction, models.Evidence{"active_hours_overlap": overlap})

		initiation := 1 - math.Abs(styleA.InitiationRate-styleB.InitiationRate)
		add(features.Reciprocity, initiation, ConfidenceInteraction, models.Evidence{
			"initiation_a": styleA.InitiationRate,
			"initiation_b": styleB.InitiationRate,
		})
	}
	placeholder(features.HumorSharing)

	// layer 2
	if styleA == nil || styleB == nil {
		for _, id := range []int{features.AttachmentCompatibility, features.EmotionalResponsiveness, features.CommunicationStyle} {
			missing(id, "interaction_style")
		}
	} else {
		latency := ratio(styleA.AvgResponseMinutes, styleB.AvgResponseMinutes)
		add(features.AttachmentCompatibility, latency, ConfidenceInteraction, models.Evidence{"response_latency_ratio": latency})

		emotion := 1 - math.Abs(styleA.EmotionWordRate-styleB.EmotionWordRate)
		add(features.EmotionalResponsiveness, emotion, ConfidenceInteraction, models.Evidence{"emotion_rate_closeness": emotion})

		length := ratio(styleA.AvgMessageLength, styleB.AvgMessageLength)
		add(features.CommunicationStyle, length, ConfidenceInteraction, models.Evidence{"message_length_ratio": length})
	}

	quizA, quizB := a.Quiz.Data, b.Quiz.Data
	if quizA == nil || quizB == nil {
		for _, id := range []int{features.SelfDisclosure, features.ValuesAlignment} {
			missing(id, "quiz")
		}
	} else {
		lo := math.Min(quizA.SelfDisclosure, quizB.SelfDisclosure)
		mean := (quizA.SelfDisclosure + quizB.SelfDisclosure) / 2
		add(features.SelfDisclosure, 0.5*lo+0.5*mean, ConfidenceQuiz, models.Evidence{"min": lo, "mean": mean})

		values := jaccardStrings(quizA.Values, quizB.Values)
		add(features.ValuesAlignment, values, ConfidenceQuiz, models.Evidence{"shared_values": intersect(quizA.Values, quizB.Values)})
	}
	placeholder(features.SelfEsteemStability)
	placeholder(features.IntimacyPacing)

	// layer 3
	if quizA == nil || quizB == nil {
		for _, id := range []int{features.LifeVision, features.GrowthOrientation, features.ConflictResolution} {
			missing(id, "quiz")
		}
	} else {
		vision := jaccardStrings(quizA.LifeGoals, quizB.LifeGoals)
		add(features.LifeVision, vision, ConfidenceQuiz, models.Evidence{"shared_goals": intersect(quizA.LifeGoals, quizB.LifeGoals)})

		growth := 1 - math.Abs(quizA.GrowthOrientation-quizB.GrowthOrientation)
		add(features.GrowthOrientation, growth, ConfidenceQuiz, models.Evidence{"growth_closeness": growth})

		conflict := conflictCompatibility(quizA.ConflictStyle, quizB.ConflictStyle)
		add(features.ConflictResolution, conflict, ConfidenceQuiz, models.Evidence{
			"style_a": quizA.ConflictStyle,
			"style_b": quizB.ConflictStyle,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].FeatureID < scores[j].FeatureID })
	return scores
}

// SelectBest keeps the highest-confidence score per feature. Ties go to the later phase,
// then to the most recently updated score, so the result does not depend on write order
// between phases.
func SelectBest(scores []models.FeatureScore) map[int]models.FeatureScore {
	best := make(map[int]models.FeatureScore, features.Count)
	for _, score := range scores {
		current, ok := best[score.FeatureID]
		if !ok || beats(score, current) {
			best[score.FeatureID] = score
		}
	}
	return best
}

func beats(candidate, current models.FeatureScore) bool {
	if candidate.Confidence != current.Confidence {
		return candidate.Confidence > current.Confidence
	}
	if candidate.SourcePhase.Rank() != current.SourcePhase.Rank() {
		return candidate.SourcePhase.Rank() > current.SourcePhase.Rank()
	}
	return candidate.UpdatedAt.After(current.UpdatedAt)
}

// BestValues flattens best scores to their normalized values
func BestValues(best map[int]models.FeatureScore) map[int]float64 {
	out := make(map[int]float64, len(best))
	for id, score := range best {
		out[id] = models.Clamp01(score.NormalizedScore)
	}
	return out
}

// CalculateLayerScores averages each layer and weights the layers into a 0-100 score.
// A layer without any scored feature counts as neutral.
func CalculateLayerScores(best map[int]float64) LayerResult {
	sums := map[int]float64{}
	counts := map[int]int{}
	perFeature := make(map[int]float64, len(best))

	for id, value := range best {
		feature, ok := features.Get(id)
		if !ok {
			continue
		}
		value = models.Clamp01(value)
		perFeature[id] = value
		sums[feature.Layer] += value
		counts[feature.Layer]++
	}

	layer := func(l int) float64 {
		if counts[l] == 0 {
			return NeutralScore
		}
		return sums[l] / float64(counts[l])
	}

	result := LayerResult{
		Layer1:     layer(features.LayerMeetingAffinity),
		Layer2:     layer(features.LayerPsychologicalFit),
		Layer3:     layer(features.LayerFutureFit),
		PerFeature: perFeature,
	}
	weighted := result.Layer1*features.LayerWeights[features.LayerMeetingAffinity] +
		result.Layer2*features.LayerWeights[features.LayerPsychologicalFit] +
		result.Layer3*features.LayerWeights[features.LayerFutureFit]
	result.FinalScore = clampScore(math.Round(100 * weighted))
	return result
}

// DetectDealbreakers reports every dealbreaker feature scored below its threshold
func DetectDealbreakers(best map[int]float64) DealbreakerResult {
	var result DealbreakerResult
	for _, feature := range features.Dealbreakers() {
		value, ok := best[feature.ID]
		if !ok || value >= feature.DealbreakerThreshold {
			continue
		}
		result.Triggered = true
		result.FeatureIDs = append(result.FeatureIDs, feature.ID)
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("%s below %.2f (%.2f)", feature.Name, feature.DealbreakerThreshold, value))
	}
	return result
}

// Evaluate combines layer scores and dealbreakers into the final match score
func Evaluate(best map[int]float64) Evaluation {
	eval := Evaluation{
		Layers:       CalculateLayerScores(best),
		Dealbreakers: DetectDealbreakers(best),
	}
	eval.FinalScore = eval.Layers.FinalScore
	if eval.Dealbreakers.Triggered {
		eval.FinalScore = 0
	}
	return eval
}

// BlendedScore is the fallback final score used when the layered recomputation fails.
// Both inputs are on the 0-100 scale.
func BlendedScore(profileScore, conversationScore float64) int {
	return clampScore(math.Round(profileScore*0.4 + conversationScore*0.6))
}

func clampScore(v float64) int {
	if v != v || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

func axisSimilarity(a, b models.Personality) float64 {
	diff := math.Abs(models.Clamp01(a.Openness)-models.Clamp01(b.Openness)) +
		math.Abs(models.Clamp01(a.Extraversion)-models.Clamp01(b.Extraversion)) +
		math.Abs(models.Clamp01(a.Agreeableness)-models.Clamp01(b.Agreeableness))
	return 1 - diff/3
}

// ratio is min/max of two non-negative magnitudes, 1 when both are zero
func ratio(a, b float64) float64 {
	a, b = math.Max(a, 0), math.Max(b, 0)
	hi := math.Max(a, b)
	if hi == 0 {
		return 1
	}
	return math.Min(a, b) / hi
}

func jaccardInts(a, b []int) float64 {
	setA := map[int]bool{}
	for _, v := range a {
		setA[v] = true
	}
	setB := map[int]bool{}
	for _, v := range b {
		setB[v] = true
	}
	return jaccard(setA, setB)
}

func jaccardStrings(a, b []string) float64 {
	return jaccard(stringSet(a), stringSet(b))
}

func jaccard[K comparable](a, b map[K]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return NeutralScore
	}
	shared := 0
	for k := range a {
		if b[k] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func intersect(a, b []string) []string {
	setB := stringSet(b)
	shared := []string{}
	for v := range stringSet(a) {
		if setB[v] {
			shared = append(shared, v)
		}
	}
	sort.Strings(shared)
	return shared
}

// conflictMatrix scores pairs of conflict styles. Keys are sorted pairs.
var conflictMatrix = map[[2]string]float64{
	{"collaborating", "collaborating"}: 0.90,
	{"collaborating", "compromising"}:  0.80,
	{"accommodating", "collaborating"}: 0.70,
	{"avoiding", "collaborating"}:      0.45,
	{"collaborating", "competing"}:     0.40,
	{"compromising", "compromising"}:   0.80,
	{"accommodating", "compromising"}:  0.65,
	{"avoiding", "compromising"}:       0.40,
	{"competing", "compromising"}:      0.35,
	{"accommodating", "accommodating"}: 0.55,
	{"accommodating", "avoiding"}:      0.35,
	{"accommodating", "competing"}:     0.30,
	{"avoiding", "avoiding"}:           0.25,
	{"avoiding", "competing"}:          0.15,
	{"competing", "competing"}:         0.10,
}

func conflictCompatibility(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	if v, ok := conflictMatrix[[2]string{a, b}]; ok {
		return v
	}
	return NeutralScore
}
