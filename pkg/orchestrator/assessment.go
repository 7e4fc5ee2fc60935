package orchestrator

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
)

// Assessment sources
const (
	SourceJSON    = "json"
	SourceSalvage = "salvage"
	SourceNeutral = "neutral"
)

// ConfidenceConversation ranks conversation evidence above every profile phase
const ConfidenceConversation = 0.7

// SubScoreFeatures maps assessment keys to the features they score
var SubScoreFeatures = map[string]int{
	"reciprocity":              features.Reciprocity,
	"humor_sharing":            features.HumorSharing,
	"self_disclosure":          features.SelfDisclosure,
	"emotional_responsiveness": features.EmotionalResponsiveness,
	"self_esteem":              features.SelfEsteemStability,
	"conflict_resolution":      features.ConflictResolution,
}

// Assessment is the parsed result of the finalization call
type Assessment struct {
	// OverallScore is on the 0-100 scale
	OverallScore float64
	SubScores    map[string]float64
	// Defaulted marks sub-scores the model did not provide
	Defaulted  map[string]bool
	Summary    string
	Source     string
	Confidence float64
}

var overallPattern = regexp.MustCompile(`"?overall_score"?\s*[:=]\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// ParseAssessment reads the model output. Strict JSON is tried first (code fences and
// surrounding prose tolerated); failing that the overall score is salvaged by pattern;
// failing that every value is neutral.
func ParseAssessment(raw string) Assessment {
	if a, ok := parseAssessmentJSON(raw); ok {
		return a
	}

	if m := overallPattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return Assessment{
				OverallScore: clampPercent(v),
				SubScores:    neutralSubScores(scoring.NeutralScore),
				Defaulted:    allDefaulted(),
				Source:       SourceSalvage,
				Confidence:   scoring.ConfidenceMissing,
			}
		}
	}

	return NeutralAssessment()
}

// NeutralAssessment is used when the provider gives nothing usable
func NeutralAssessment() Assessment {
	return Assessment{
		OverallScore: scoring.NeutralScore * 100,
		SubScores:    neutralSubScores(scoring.NeutralScore),
		Defaulted:    allDefaulted(),
		Source:       SourceNeutral,
		Confidence:   scoring.ConfidenceMissing,
	}
}

func neutralSubScores(v float64) map[string]float64 {
	sub := make(map[string]float64, len(SubScoreFeatures))
	for key := range SubScoreFeatures {
		sub[key] = v
	}
	return sub
}

func allDefaulted() map[string]bool {
	defaulted := make(map[string]bool, len(SubScoreFeatures))
	for key := range SubScoreFeatures {
		defaulted[key] = true
	}
	return defaulted
}

func parseAssessmentJSON(raw string) (Assessment, bool) {
	body := extractJSON(raw)
	if body == "" {
		return Assessment{}, false
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Assessment{}, false
	}

	a := Assessment{
		SubScores:  make(map[string]float64, len(SubScoreFeatures)),
		Defaulted:  map[string]bool{},
		Source:     SourceJSON,
		Confidence: ConfidenceConversation,
	}
	if s, ok := doc["summary"].(string); ok {
		a.Summary = strings.TrimSpace(s)
	}

	var sum float64
	var given int
	for key := range SubScoreFeatures {
		v, ok := number(doc[key])
		if !ok {
			a.SubScores[key] = scoring.NeutralScore
			a.Defaulted[key] = true
			continue
		}
		v = unitScore(v)
		a.SubScores[key] = v
		sum += v
		given++
	}

	overall, hasOverall := number(doc["overall_score"])
	switch {
	case hasOverall:
		if overall > 0 && overall < 1 {
			overall *= 100
		}
		a.OverallScore = clampPercent(overall)
	case given > 0:
		a.OverallScore = clampPercent(sum / float64(given) * 100)
	default:
		return Assessment{}, false
	}
	return a, true
}

// unitScore maps a sub-score onto [0,1]. Values of 2 and above are read as percentages;
// anything else out of range is clamped.
func unitScore(v float64) float64 {
	if v >= 2 {
		v /= 100
	}
	return models.Clamp01(v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func clampPercent(v float64) float64 {
	return models.Clamp01(v/100) * 100
}

// extractJSON strips markdown fences, then takes the outermost braces
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// FeatureScores converts the assessment into conversation-phase feature scores
func (a Assessment) FeatureScores(matchID uuid.UUID) []models.FeatureScore {
	scores := make([]models.FeatureScore, 0, len(SubScoreFeatures))
	for key, featureID := range SubScoreFeatures {
		v := models.Clamp01(a.SubScores[key])
		confidence := a.Confidence
		if a.Defaulted[key] {
			confidence = scoring.ConfidenceMissing
		}
		scores = append(scores, models.FeatureScore{
			MatchID:         matchID,
			FeatureID:       featureID,
			RawScore:        v,
			NormalizedScore: v,
			Confidence:      confidence,
			Evidence: database.NewJSONB(models.Evidence{
				"source":    a.Source,
				"key":       key,
				"overall":   a.OverallScore,
				"defaulted": a.Defaulted[key],
			}),
			SourcePhase: models.PhaseConversation,
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].FeatureID < scores[j].FeatureID })
	return scores
}

// Analysis is the observer-facing summary of the assessment
func (a Assessment) Analysis() map[string]any {
	return map[string]any{
		"summary":    a.Summary,
		"source":     a.Source,
		"sub_scores": a.SubScores,
	}
}
