package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
)

func newQA() *QAValidator {
	return NewQAValidator(lexicon.Default(), 0, 0, 0)
}

func TestQA_CleanSet(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"modularity"},
		model.CategoryMethods:    {"surveys"},
		model.CategoryFrameworks: {"actor model"},
		model.CategoryTheories:   {"game theory"},
	})

	res := newQA().Validate(swarmDoc, cs)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.True(t, res.Concepts.Equal(cs))
}

func TestQA_OverCapLeavesDataUnmodified(t *testing.T) {
	var items []string
	for i := 0; i < 25; i++ {
		items = append(items, fmt.Sprintf("principle number %d", i))
	}
	cs := set(map[model.Category][]string{model.CategoryPrinciples: items})

	res := newQA().Validate(swarmDoc, cs)
	assert.False(t, res.Valid)

	over := 0
	for _, issue := range res.Issues {
		if strings.Contains(issue, "exceeding the maximum") {
			over++
		}
	}
	assert.Equal(t, 1, over)
	assert.Equal(t, 25, res.Concepts.Len(model.CategoryPrinciples))
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestQA_NoConcepts(t *testing.T) {
	res := newQA().Validate(swarmDoc, model.NewConceptSet())
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"No concepts were extracted from the document."}, res.Issues)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestQA_MissingCategoriesInjected(t *testing.T) {
	var zero model.ConceptSet

	res := newQA().Validate(swarmDoc, zero)
	assert.False(t, res.Valid)
	assert.Len(t, res.Issues, 5)
	assert.Equal(t, `Missing "principles" category in extracted concepts.`, res.Issues[0])
	for _, c := range model.Categories {
		assert.True(t, res.Concepts.Present(c))
	}
	// 4 * 0.1 + 0.3
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
}

func TestQA_ItemChecks(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"ab", strings.Repeat("x", 251)},
		model.CategoryMethods:    {"Example method", "Dummy data"},
		model.CategoryFrameworks: {"We study swarms."},
		model.CategoryTheories:   {"game theory", "Game Theory"},
	})

	res := newQA().Validate(swarmDoc, cs)
	assert.True(t, res.Valid)
	assert.Equal(t, []string{
		`Concept "ab" in "principles" is very short (length 2).`,
		`Concept "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx..." in "principles" is very long (length 251).`,
		`Concept "Example method" in "methods" looks like a placeholder or a copied snippet.`,
		`Concept "Dummy data" in "methods" looks like a placeholder or a copied snippet.`,
		`Concept "We study swarms." in "frameworks" looks like a placeholder or a copied snippet.`,
		`Concept "Game Theory" in "theories" duplicates an earlier value.`,
	}, res.Issues)
	// 1 - 2*0.05 - 3*0.1 - 0.05
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
}

func TestQA_ConfidenceClampedAtZero(t *testing.T) {
	var items []string
	for i := 0; i < 30; i++ {
		items = append(items, "test")
	}
	cs := set(map[model.Category][]string{model.CategoryMethods: items})

	res := newQA().Validate(swarmDoc, cs)
	assert.False(t, res.Valid)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestQA_CustomLimits(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"modularity", "robustness", "scalability"},
	})

	res := NewQAValidator(lexicon.Default(), 2, 1, 5).Validate("", cs)
	assert.False(t, res.Valid)
	// over cap plus three long items
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}
