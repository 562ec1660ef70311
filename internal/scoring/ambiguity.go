// Package scoring computes the per-field trust signals of an extraction:
// ambiguity, category co-occurrence and the fused confidence.
package scoring

import (
	"fmt"
	"strings"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
)

// Ambiguity reasons and scores.
const (
	ReasonEmpty   = "empty"
	ReasonHedging = "hedging detected"
	ReasonClear   = "clear"

	AmbiguityEmpty   = 1.0
	AmbiguityHedging = 0.6
	AmbiguityClear   = 0.0
)

// AmbiguityScorer flags empty and hedged categories.
type AmbiguityScorer struct {
	markers []string
}

// NewAmbiguityScorer creates a scorer using the hedging markers of lex.
func NewAmbiguityScorer(lex *lexicon.Lexicon) *AmbiguityScorer {
	return &AmbiguityScorer{markers: lex.HedgingMarkers()}
}

// Score returns one AmbiguityScore per category in canonical order.
func (s *AmbiguityScorer) Score(cs model.ConceptSet) []model.AmbiguityScore {
	out := make([]model.AmbiguityScore, 0, len(model.Categories))
	for _, c := range model.Categories {
		out = append(out, s.scoreField(c, cs.Values(c)))
	}
	return out
}

func (s *AmbiguityScorer) scoreField(c model.Category, values []string) model.AmbiguityScore {
	if len(values) == 0 {
		return model.AmbiguityScore{Field: c, Score: AmbiguityEmpty, Reason: ReasonEmpty}
	}
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, m := range s.markers {
			if strings.Contains(lower, m) {
				return model.AmbiguityScore{
					Field:  c,
					Score:  AmbiguityHedging,
					Reason: fmt.Sprintf("%s: %s", ReasonHedging, m),
				}
			}
		}
	}
	return model.AmbiguityScore{Field: c, Score: AmbiguityClear, Reason: ReasonClear}
}

// AmbiguityFor returns the score recorded for c, or a clear score if absent.
func AmbiguityFor(scores []model.AmbiguityScore, c model.Category) model.AmbiguityScore {
	for _, s := range scores {
		if s.Field == c {
			return s
		}
	}
	return model.AmbiguityScore{Field: c, Score: AmbiguityClear, Reason: ReasonClear}
}
