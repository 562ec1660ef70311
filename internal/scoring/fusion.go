package scoring

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
)

// Fusion weights.
const (
	BasePresent        = 0.8
	BaseAbsent         = 0.5
	AmbiguityPenalty   = 0.5
	DependencyBonus    = 0.05
	ReinforcementBonus = 0.05
	scoreDecimalPlaces = 3
)

// FusionInput carries every signal the fusion engine combines.
type FusionInput struct {
	Concepts     model.ConceptSet
	Ambiguity    []model.AmbiguityScore
	Dependencies map[model.Category][]model.DependencyInsight
	Recovered    map[model.Category]bool
}

// Fuse computes per-field and overall confidence. It is deterministic for
// identical inputs.
func Fuse(in FusionInput) model.ConfidenceResult {
	res := model.ConfidenceResult{
		FieldConfidences: make([]model.FieldConfidence, 0, len(model.Categories)),
	}

	var sum float64
	for _, c := range model.Categories {
		fc := fuseField(c, in)
		res.FieldConfidences = append(res.FieldConfidences, fc)
		sum += fc.Score
	}
	res.OverallConfidence = Round(sum / float64(len(model.Categories)))
	return res
}

func fuseField(c model.Category, in FusionInput) model.FieldConfidence {
	var signals []model.Signal
	hasContent := in.Concepts.HasContent(c)

	score := BaseAbsent
	details := "field is empty"
	if hasContent {
		score = BasePresent
		details = "field has content"
	}
	signals = append(signals, model.Signal{Type: model.SignalBase, Details: details, Value: score})

	// An "empty" ambiguity flag is already expressed by the absent base.
	var (
		total float64
		n     int
		seen  bool
	)
	for _, a := range in.Ambiguity {
		if a.Field != c {
			continue
		}
		seen = true
		if a.Reason == ReasonEmpty {
			continue
		}
		total += a.Score
		n++
	}
	if n > 0 {
		avg := total / float64(n)
		penalty := avg * AmbiguityPenalty
		score -= penalty
		signals = append(signals, model.Signal{
			Type:    model.SignalAmbiguity,
			Details: fmt.Sprintf("avg ambiguity %.2f resulted in -%.3f penalty", avg, penalty),
			Value:   -penalty,
		})
	} else if seen {
		signals = append(signals, model.Signal{
			Type:    model.SignalAmbiguity,
			Details: "empty field, no hedging penalty",
			Value:   0,
		})
	}

	if deps := in.Dependencies[c]; len(deps) > 0 {
		active := 0
		for _, d := range deps {
			if in.Concepts.HasContent(d.Related) {
				active++
			}
		}
		bonus := float64(active) * DependencyBonus
		score += bonus
		signals = append(signals, model.Signal{
			Type:    model.SignalDependency,
			Details: fmt.Sprintf("%d of %d related fields have content", active, len(deps)),
			Value:   bonus,
		})
	}

	if in.Recovered[c] {
		score += ReinforcementBonus
		signals = append(signals, model.Signal{
			Type:    model.SignalReinforcement,
			Details: "field recovered by reinforcement",
			Value:   ReinforcementBonus,
		})
	}

	score = Round(Clamp(score))
	zap.L().Debug("scoring: field confidence",
		zap.String("field", string(c)),
		zap.Float64("score", score),
		zap.Any("signals", signals),
	)
	return model.FieldConfidence{Field: c, Score: score, ContributingSignals: signals}
}

// Clamp limits v to [0,1].
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Round rounds v to three decimal places.
func Round(v float64) float64 {
	p := math.Pow(10, scoreDecimalPlaces)
	return math.Round(v*p) / p
}
