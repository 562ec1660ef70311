package scoring

import (
	"sort"
	"sync"

	"github.com/sells-group/concept-cli/internal/model"
)

// Edges is a sparse category -> category -> strength map.
type Edges map[model.Category]map[model.Category]int

func (e Edges) add(from, to model.Category, n int) {
	if e[from] == nil {
		e[from] = make(map[model.Category]int)
	}
	e[from][to] += n
}

func (e Edges) clone() Edges {
	out := make(Edges, len(e))
	for from, row := range e {
		for to, n := range row {
			out.add(from, to, n)
		}
	}
	return out
}

// DependencyGraph tracks how often categories are populated together. The
// strength of an edge is its seeded prior plus observed co-occurrences.
type DependencyGraph struct {
	mu       sync.RWMutex
	priors   Edges
	observed Edges
}

// NewDependencyGraph seeds a graph from priors.
func NewDependencyGraph(priors map[model.Category]map[model.Category]int) *DependencyGraph {
	g := &DependencyGraph{priors: Edges{}, observed: Edges{}}
	for from, row := range priors {
		for to, n := range row {
			if from != to {
				g.priors.add(from, to, n)
			}
		}
	}
	return g
}

// Analyze increments, in both directions, every unordered pair of
// categories that both have content. It returns the increments applied.
func (g *DependencyGraph) Analyze(cs model.ConceptSet) Edges {
	var present []model.Category
	for _, c := range model.Categories {
		if cs.HasContent(c) {
			present = append(present, c)
		}
	}

	delta := Edges{}
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			delta.add(present[i], present[j], 1)
			delta.add(present[j], present[i], 1)
		}
	}

	g.Merge(delta)
	return delta
}

// Merge adds previously observed co-occurrences, such as a persisted
// corpus-level snapshot, to the graph.
func (g *DependencyGraph) Merge(observed Edges) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for from, row := range observed {
		for to, n := range row {
			if from != to && n != 0 {
				g.observed.add(from, to, n)
			}
		}
	}
}

// Clone returns an independent copy of the graph.
func (g *DependencyGraph) Clone() *DependencyGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &DependencyGraph{priors: g.priors.clone(), observed: g.observed.clone()}
}

// Snapshot returns a copy of the observed co-occurrences, excluding priors.
func (g *DependencyGraph) Snapshot() Edges {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.observed.clone()
}

// Strength returns the combined edge strength from -> to.
func (g *DependencyGraph) Strength(from, to model.Category) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.priors[from][to] + g.observed[from][to]
}

// PotentialDependencies returns the categories related to field with a
// strength above threshold, strongest first. Ties keep canonical order.
func (g *DependencyGraph) PotentialDependencies(field model.Category, threshold int) []model.DependencyInsight {
	var out []model.DependencyInsight
	for _, c := range model.Categories {
		if c == field {
			continue
		}
		if s := g.Strength(field, c); s > threshold {
			out = append(out, model.DependencyInsight{Field: field, Related: c, Strength: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Strength > out[j].Strength
	})
	return out
}

// Insights returns PotentialDependencies for every category.
func (g *DependencyGraph) Insights(threshold int) map[model.Category][]model.DependencyInsight {
	out := make(map[model.Category][]model.DependencyInsight, len(model.Categories))
	for _, c := range model.Categories {
		out[c] = g.PotentialDependencies(c, threshold)
	}
	return out
}
