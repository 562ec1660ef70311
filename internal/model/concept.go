package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Category is one of the four fixed extraction buckets.
type Category string

const (
	CategoryPrinciples Category = "principles"
	CategoryMethods    Category = "methods"
	CategoryFrameworks Category = "frameworks"
	CategoryTheories   Category = "theories"
)

// Categories lists every category in canonical order.
var Categories = []Category{
	CategoryPrinciples,
	CategoryMethods,
	CategoryFrameworks,
	CategoryTheories,
}

// ParseCategory returns the category named by s (case-insensitive).
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Concept sources identify which stage produced or repaired a value.
const (
	SourceSanitizer     = "Sanitizer"
	SourceNormalizer    = "Normalizer"
	SourceAggregator    = "Aggregator"
	SourceReinforcement = "ReinforcementAgent"
)

// Concept is a single extracted value. Treat it as immutable.
type Concept struct {
	Value  string   `json:"value"`
	Source string   `json:"source"`
	Score  *float64 `json:"score,omitempty"`
}

// NewConcept creates a Concept without a relevance score.
func NewConcept(value, source string) Concept {
	return Concept{Value: value, Source: source}
}

// WithSource returns a copy of c attributed to source.
func (c Concept) WithSource(source string) Concept {
	out := Concept{Value: c.Value, Source: source}
	if c.Score != nil {
		s := *c.Score
		out.Score = &s
	}
	return out
}

// ConceptSet maps each category to an ordered list of concepts. The zero
// value is an empty set. All accessors copy, so a stage can never mutate
// the set it was given.
type ConceptSet struct {
	items map[Category][]Concept
}

// NewConceptSet returns an empty set with all four categories present.
func NewConceptSet() ConceptSet {
	items := make(map[Category][]Concept, len(Categories))
	for _, c := range Categories {
		items[c] = []Concept{}
	}
	return ConceptSet{items: items}
}

// ConceptSetFromValues builds a set from plain strings, attributing every
// value to source. Unknown category keys are ignored.
func ConceptSetFromValues(values map[Category][]string, source string) ConceptSet {
	cs := NewConceptSet()
	for c, vals := range values {
		if _, ok := cs.items[c]; !ok {
			continue
		}
		concepts := make([]Concept, 0, len(vals))
		for _, v := range vals {
			concepts = append(concepts, NewConcept(v, source))
		}
		cs.items[c] = concepts
	}
	return cs
}

// Get returns a copy of the concepts for category c.
func (cs ConceptSet) Get(c Category) []Concept {
	src := cs.items[c]
	out := make([]Concept, len(src))
	copy(out, src)
	return out
}

// Values returns the plain string values for category c.
func (cs ConceptSet) Values(c Category) []string {
	src := cs.items[c]
	out := make([]string, len(src))
	for i, concept := range src {
		out[i] = concept.Value
	}
	return out
}

// Len returns the number of concepts in category c.
func (cs ConceptSet) Len(c Category) int {
	return len(cs.items[c])
}

// Present reports whether category c exists in the set at all. Only the
// zero value and hand-built sets can lack a category.
func (cs ConceptSet) Present(c Category) bool {
	_, ok := cs.items[c]
	return ok
}

// HasContent reports whether category c holds at least one concept.
func (cs ConceptSet) HasContent(c Category) bool {
	return len(cs.items[c]) > 0
}

// Total returns the number of concepts across all categories.
func (cs ConceptSet) Total() int {
	n := 0
	for _, c := range Categories {
		n += len(cs.items[c])
	}
	return n
}

// With returns a new set in which category c holds concepts.
func (cs ConceptSet) With(c Category, concepts []Concept) ConceptSet {
	out := cs.Clone()
	cp := make([]Concept, len(concepts))
	copy(cp, concepts)
	out.items[c] = cp
	return out
}

// Clone returns a deep copy with all four categories present.
func (cs ConceptSet) Clone() ConceptSet {
	out := NewConceptSet()
	for _, c := range Categories {
		out.items[c] = cs.Get(c)
	}
	return out
}

// Equal reports whether both sets hold the same values in the same order.
func (cs ConceptSet) Equal(other ConceptSet) bool {
	for _, c := range Categories {
		a, b := cs.items[c], other.items[c]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Value != b[i].Value {
				return false
			}
		}
	}
	return true
}

// MarshalJSON always emits all four categories, using [] for empty ones.
func (cs ConceptSet) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Concept, len(Categories))
	for _, c := range Categories {
		out[string(c)] = cs.Get(c)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a four-category object. Missing categories become empty.
func (cs *ConceptSet) UnmarshalJSON(data []byte) error {
	var raw map[string][]Concept
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal concept set")
	}
	out := NewConceptSet()
	for key, concepts := range raw {
		c, ok := ParseCategory(key)
		if !ok {
			continue
		}
		if concepts == nil {
			concepts = []Concept{}
		}
		out.items[c] = concepts
	}
	*cs = out
	return nil
}
