package model

// SignalType names a contributor to a field confidence score.
type SignalType string

const (
	SignalBase          SignalType = "base"
	SignalAmbiguity     SignalType = "ambiguity"
	SignalDependency    SignalType = "dependency"
	SignalReinforcement SignalType = "reinforcement"
)

// Signal records one contribution to a field score.
type Signal struct {
	Type    SignalType `json:"type"`
	Details string     `json:"details"`
	Value   float64    `json:"value"`
}

// FieldConfidence is the fused confidence for one category.
type FieldConfidence struct {
	Field               Category `json:"field"`
	Score               float64  `json:"score"`
	ContributingSignals []Signal `json:"contributing_signals"`
}

// ConfidenceResult holds per-field scores and their mean.
type ConfidenceResult struct {
	OverallConfidence float64           `json:"overall_confidence"`
	FieldConfidences  []FieldConfidence `json:"field_confidences"`
}

// Field returns the confidence for category c, if scored.
func (r ConfidenceResult) Field(c Category) (FieldConfidence, bool) {
	for _, fc := range r.FieldConfidences {
		if fc.Field == c {
			return fc, true
		}
	}
	return FieldConfidence{}, false
}

// AmbiguityScore flags empty or hedged categories. 0 is clear, 1 is empty.
type AmbiguityScore struct {
	Field  Category `json:"field"`
	Score  float64  `json:"score"`
	Reason string   `json:"reason"`
}

// DependencyInsight is a related category and its co-occurrence strength.
type DependencyInsight struct {
	Field    Category `json:"field"`
	Related  Category `json:"related"`
	Strength int      `json:"strength"`
}
