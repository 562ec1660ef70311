package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/scoring"
)

const swarmDoc = "We study swarms. Agents rely on self-organization and robustness. " +
	"The simulation uses agent-based modeling inside a multi-agent system."

func signalsFor(cs model.ConceptSet) ([]model.AmbiguityScore, model.ConfidenceResult) {
	lex := lexicon.Default()
	amb := scoring.NewAmbiguityScorer(lex).Score(cs)
	graph := scoring.NewDependencyGraph(lex.Priors())
	graph.Analyze(cs)
	conf := scoring.Fuse(scoring.FusionInput{Concepts: cs, Ambiguity: amb, Dependencies: graph.Insights(0)})
	return amb, conf
}

func attemptFor(t *testing.T, attempts []model.RecoveryAttempt, c model.Category) model.RecoveryAttempt {
	t.Helper()
	for _, a := range attempts {
		if a.Field == c {
			return a
		}
	}
	t.Fatalf("no attempt for %s", c)
	return model.RecoveryAttempt{}
}

func TestRefine_RecoversEmptyFields(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryFrameworks: {"actor model"},
	})
	amb, conf := signalsFor(cs)

	agent := NewReinforcementAgent(lexicon.Default(), DefaultReinforcementThreshold)
	out := agent.Refine(context.Background(), ReinforceInput{
		Concepts: cs, Ambiguity: amb, Confidence: conf, Document: swarmDoc,
	})

	require.Len(t, out.Attempts, 4)
	assert.True(t, out.NeedsFurtherReview)

	p := attemptFor(t, out.Attempts, model.CategoryPrinciples)
	assert.Equal(t, model.OutcomeImproved, p.Outcome)
	assert.Equal(t, model.StrategyKeywordSearch, p.Strategy)
	assert.Equal(t, []string{"self-organization", "robustness"}, p.After)
	assert.Empty(t, p.Before)

	m := attemptFor(t, out.Attempts, model.CategoryMethods)
	assert.Equal(t, model.OutcomeImproved, m.Outcome)
	assert.Equal(t, []string{"agent-based modeling"}, m.After)

	f := attemptFor(t, out.Attempts, model.CategoryFrameworks)
	assert.Equal(t, model.OutcomeSkipped, f.Outcome)
	assert.Equal(t, model.StrategyNone, f.Strategy)

	th := attemptFor(t, out.Attempts, model.CategoryTheories)
	assert.Equal(t, model.OutcomeNoMatch, th.Outcome)

	assert.Equal(t, []string{"self-organization", "robustness"}, out.Concepts.Values(model.CategoryPrinciples))
	for _, c := range out.Concepts.Get(model.CategoryPrinciples) {
		assert.Equal(t, model.SourceReinforcement, c.Source)
	}
	assert.Equal(t, []string{"actor model"}, out.Concepts.Values(model.CategoryFrameworks))
	assert.Contains(t, out.Summary, "Recovered [self-organization, robustness] for field 'principles'")

	// Input is untouched.
	assert.Equal(t, 0, cs.Len(model.CategoryPrinciples))
	assert.Equal(t, map[model.Category]bool{model.CategoryPrinciples: true, model.CategoryMethods: true}, out.Improved())
}

func TestRefine_HedgedNonEmptyFieldRetained(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"possibly modularity"},
		model.CategoryMethods:    {"surveys"},
		model.CategoryFrameworks: {"actor model"},
		model.CategoryTheories:   {"game theory"},
	})
	amb, conf := signalsFor(cs)

	out := NewReinforcementAgent(lexicon.Default(), DefaultReinforcementThreshold).Refine(context.Background(), ReinforceInput{
		Concepts: cs, Ambiguity: amb, Confidence: conf, Document: swarmDoc,
	})

	p := attemptFor(t, out.Attempts, model.CategoryPrinciples)
	assert.Equal(t, model.OutcomeNoChange, p.Outcome)
	assert.Equal(t, []string{"possibly modularity"}, p.After)
	assert.False(t, out.NeedsFurtherReview)
	assert.True(t, out.Concepts.Equal(cs))
	assert.Equal(t, "Low-confidence fields reviewed; no keywords recovered.", out.Summary)
}

func TestRefine_AllClearSkipsEverything(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"modularity"},
		model.CategoryMethods:    {"surveys"},
		model.CategoryFrameworks: {"actor model"},
		model.CategoryTheories:   {"game theory"},
	})
	amb, conf := signalsFor(cs)

	out := NewReinforcementAgent(lexicon.Default(), 0.6).Refine(context.Background(), ReinforceInput{
		Concepts: cs, Ambiguity: amb, Confidence: conf, Document: swarmDoc,
	})
	for _, a := range out.Attempts {
		assert.Equal(t, model.OutcomeSkipped, a.Outcome, a.Field)
	}
	assert.False(t, out.NeedsFurtherReview)
	assert.Contains(t, out.Summary, "passed through")
}

func TestRefine_LowConfidenceThresholdTargets(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"modularity"},
		model.CategoryMethods:    {"surveys"},
		model.CategoryFrameworks: {"actor model"},
		model.CategoryTheories:   {"game theory"},
	})
	amb, conf := signalsFor(cs)

	// Every field scores 0.95, so a threshold above that targets all of them.
	out := NewReinforcementAgent(lexicon.Default(), 0.99).Refine(context.Background(), ReinforceInput{
		Concepts: cs, Ambiguity: amb, Confidence: conf, Document: swarmDoc,
	})
	for _, a := range out.Attempts {
		assert.Equal(t, model.OutcomeNoChange, a.Outcome, a.Field)
	}
}

func TestRefine_ZeroThresholdIsKept(t *testing.T) {
	cs := set(map[model.Category][]string{
		model.CategoryPrinciples: {"modularity"},
		model.CategoryMethods:    {"surveys"},
		model.CategoryFrameworks: {"actor model"},
		model.CategoryTheories:   {"game theory"},
	})
	amb, conf := signalsFor(cs)
	for i := range conf.FieldConfidences {
		conf.FieldConfidences[i].Score = 0.3
	}
	in := ReinforceInput{Concepts: cs, Ambiguity: amb, Confidence: conf, Document: swarmDoc}

	out := NewReinforcementAgent(lexicon.Default(), 0).Refine(context.Background(), in)
	for _, a := range out.Attempts {
		assert.Equal(t, model.OutcomeSkipped, a.Outcome, a.Field)
	}

	out = NewReinforcementAgent(lexicon.Default(), -1).Refine(context.Background(), in)
	for _, a := range out.Attempts {
		assert.Equal(t, model.OutcomeNoChange, a.Outcome, a.Field)
	}
}

func TestRefine_CaseInsensitiveSearch(t *testing.T) {
	cs := model.NewConceptSet()
	amb, conf := signalsFor(cs)

	out := NewReinforcementAgent(lexicon.Default(), DefaultReinforcementThreshold).Refine(context.Background(), ReinforceInput{
		Concepts: cs, Ambiguity: amb, Confidence: conf, Document: "GAME THEORY and Cellular Automata",
	})
	assert.Equal(t, []string{"game theory"}, out.Concepts.Values(model.CategoryTheories))
	assert.Equal(t, []string{"cellular automata"}, out.Concepts.Values(model.CategoryFrameworks))
}
