package pipeline

import (
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
)

// Aggregate concatenates per-chunk sets in chunk order and drops exact
// duplicate values per category. The first occurrence wins.
func Aggregate(sets []model.ConceptSet) model.ConceptSet {
	out := model.NewConceptSet()
	for _, c := range model.Categories {
		seen := make(map[string]struct{})
		var merged []model.Concept
		dropped := 0
		for _, cs := range sets {
			for _, concept := range cs.Get(c) {
				if _, dup := seen[concept.Value]; dup {
					dropped++
					continue
				}
				seen[concept.Value] = struct{}{}
				merged = append(merged, concept.WithSource(model.SourceAggregator))
			}
		}
		if dropped > 0 {
			zap.L().Debug("aggregate: duplicates dropped",
				zap.String("field", string(c)),
				zap.Int("dropped", dropped),
			)
		}
		out = out.With(c, merged)
	}
	return out
}
