// Package features holds the fixed catalog of the 14 compatibility dimensions.
package features

import (
	"github.com/Ramsey-B/wingfox/pkg/models"
)

// Feature ids
const (
	SimilarityComplementarity = 1
	MereExposure              = 2
	Reciprocity               = 3
	HumorSharing              = 4
	AttachmentCompatibility   = 5
	EmotionalResponsiveness   = 6
	SelfDisclosure            = 7
	ValuesAlignment           = 8
	CommunicationStyle        = 9
	SelfEsteemStability       = 10
	IntimacyPacing            = 11
	LifeVision                = 12
	GrowthOrientation         = 13
	ConflictResolution        = 14
)

// Layers
const (
	LayerMeetingAffinity  = 1
	LayerPsychologicalFit = 2
	LayerFutureFit        = 3
)

// LayerWeights are the contributions of each layer to the final score
var LayerWeights = map[int]float64{
	LayerMeetingAffinity:  0.20,
	LayerPsychologicalFit: 0.50,
	LayerFutureFit:        0.30,
}

// Feature is one compatibility dimension
type Feature struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Layer int    `json:"layer"`
	// IsDealbreaker features force the final score to zero below DealbreakerThreshold
	IsDealbreaker        bool           `json:"is_dealbreaker"`
	DealbreakerThreshold float64        `json:"dealbreaker_threshold,omitempty"`
	EvidencePhases       []models.Phase `json:"evidence_phases"`
}

// Supports reports whether phase can produce evidence for the feature
func (f Feature) Supports(phase models.Phase) bool {
	for _, p := range f.EvidencePhases {
		if p == phase {
			return true
		}
	}
	return false
}

var (
	profile      = models.PhaseProfile
	speedDate    = models.PhaseSpeedDate
	conversation = models.PhaseConversation
)

var catalog = []Feature{
	{ID: SimilarityComplementarity, Name: "similarity_complementarity", Layer: LayerMeetingAffinity, EvidencePhases: []models.Phase{profile, speedDate}},
	{ID: MereExposure, Name: "mere_exposure", Layer: LayerMeetingAffinity, EvidencePhases: []models.Phase{profile}},
	{ID: Reciprocity, Name: "reciprocity", Layer: LayerMeetingAffinity, EvidencePhases: []models.Phase{profile, speedDate, conversation}},
	{ID: HumorSharing, Name: "humor_sharing", Layer: LayerMeetingAffinity, EvidencePhases: []models.Phase{speedDate, conversation}},
	{ID: AttachmentCompatibility, Name: "attachment_compatibility", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{profile, speedDate}},
	{ID: EmotionalResponsiveness, Name: "emotional_responsiveness", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{profile, speedDate, conversation}},
	{ID: SelfDisclosure, Name: "self_disclosure", Layer: LayerPsychologicalFit, IsDealbreaker: true, DealbreakerThreshold: 0.15, EvidencePhases: []models.Phase{profile, speedDate, conversation}},
	{ID: ValuesAlignment, Name: "values_alignment", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{profile, speedDate}},
	{ID: CommunicationStyle, Name: "communication_style", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{profile, speedDate}},
	{ID: SelfEsteemStability, Name: "self_esteem_stability", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{speedDate, conversation}},
	{ID: IntimacyPacing, Name: "intimacy_pacing", Layer: LayerPsychologicalFit, EvidencePhases: []models.Phase{speedDate}},
	{ID: LifeVision, Name: "life_vision", Layer: LayerFutureFit, EvidencePhases: []models.Phase{profile}},
	{ID: GrowthOrientation, Name: "growth_orientation", Layer: LayerFutureFit, EvidencePhases: []models.Phase{profile}},
	{ID: ConflictResolution, Name: "conflict_resolution", Layer: LayerFutureFit, IsDealbreaker: true, DealbreakerThreshold: 0.20, EvidencePhases: []models.Phase{profile, conversation}},
}

var byID = func() map[int]Feature {
	m := make(map[int]Feature, len(catalog))
	for _, f := range catalog {
		m[f.ID] = f
	}
	return m
}()

// Count is the number of features in the catalog
const Count = 14

// All returns every feature ordered by id
func All() []Feature {
	out := make([]Feature, len(catalog))
	copy(out, catalog)
	return out
}

// Get returns the feature with id
func Get(id int) (Feature, bool) {
	f, ok := byID[id]
	return f, ok
}

// ByLayer returns the features of one layer ordered by id
func ByLayer(layer int) []Feature {
	var out []Feature
	for _, f := range catalog {
		if f.Layer == layer {
			out = append(out, f)
		}
	}
	return out
}

// Dealbreakers returns the dealbreaker features
func Dealbreakers() []Feature {
	var out []Feature
	for _, f := range catalog {
		if f.IsDealbreaker {
			out = append(out, f)
		}
	}
	return out
}

// Name returns the name of a feature id, or "" for an unknown id
func Name(id int) string {
	return byID[id].Name
}
