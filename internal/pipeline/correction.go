package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/scoring"
)

// DefaultMaxPasses bounds the self-correction loop.
const DefaultMaxPasses = 3

// CorrectionInput is the state the loop starts from.
type CorrectionInput struct {
	Concepts     model.ConceptSet
	Ambiguity    []model.AmbiguityScore
	Dependencies map[model.Category][]model.DependencyInsight
	Confidence   model.ConfidenceResult
	Document     string
	// Graph is the dependency graph before this document's concepts were
	// counted. With recompute set, each pass analyzes its output on a copy.
	// A nil Graph keeps Dependencies fixed.
	Graph               *scoring.DependencyGraph
	DependencyThreshold int
}

// CorrectionOutput is the loop's final state.
type CorrectionOutput struct {
	Concepts  model.ConceptSet
	Ambiguity    []model.AmbiguityScore
	Dependencies map[model.Category][]model.DependencyInsight
	// Recovered lists every category filled by any pass.
	Recovered map[model.Category]bool
	Report    model.CorrectionReport
}

// CorrectionLoop repeatedly runs the reinforcement agent until a pass makes
// no improvement or MaxPasses is reached.
type CorrectionLoop struct {
	agent     *ReinforcementAgent
	ambiguity *scoring.AmbiguityScorer
	maxPasses int
	recompute bool
}

// NewCorrectionLoop creates a loop. When recompute is set, ambiguity,
// dependency insights and confidence are re-derived from each pass's output before the next pass;
// otherwise every pass sees the signals that started the loop.
func NewCorrectionLoop(agent *ReinforcementAgent, ambiguity *scoring.AmbiguityScorer, maxPasses int, recompute bool) *CorrectionLoop {
	return &CorrectionLoop{agent: agent, ambiguity: ambiguity, maxPasses: maxPasses, recompute: recompute}
}

// Run executes the loop. It stops early when ctx is done.
func (l *CorrectionLoop) Run(ctx context.Context, in CorrectionInput) CorrectionOutput {
	out := CorrectionOutput{
		Concepts:  in.Concepts.Clone(),
		Ambiguity: in.Ambiguity,
		Recovered: make(map[model.Category]bool),
		Report: model.CorrectionReport{
			MaxPasses:        l.maxPasses,
			RecomputeSignals: l.recompute,
			Passes:           []model.CorrectionPass{},
			Log:              []string{"Self-correction loop initiated."},
		},
	}

	ambiguity := in.Ambiguity
	dependencies := in.Dependencies
	confidence := in.Confidence
	needsReview := false

	for pass := 1; pass <= l.maxPasses; pass++ {
		if ctx.Err() != nil {
			out.Report.Log = append(out.Report.Log, fmt.Sprintf("Canceled before pass %d.", pass))
			break
		}
		out.Report.Log = append(out.Report.Log, fmt.Sprintf("Starting correction pass %d/%d.", pass, l.maxPasses))

		before := out.Concepts
		res := l.agent.Refine(ctx, ReinforceInput{
			Concepts:   before,
			Ambiguity:  ambiguity,
			Confidence: confidence,
			Document:   in.Document,
		})
		for c := range res.Improved() {
			out.Recovered[c] = true
		}
		out.Concepts = res.Concepts
		out.Report.PassesRun = pass
		needsReview = res.NeedsFurtherReview

		if l.recompute {
			ambiguity = l.ambiguity.Score(out.Concepts)
			if in.Graph != nil {
				g := in.Graph.Clone()
				g.Analyze(out.Concepts)
				dependencies = g.Insights(in.DependencyThreshold)
			}
			confidence = scoring.Fuse(scoring.FusionInput{
				Concepts:     out.Concepts,
				Ambiguity:    ambiguity,
				Dependencies: dependencies,
				Recovered:    out.Recovered,
			})
		}

		out.Report.Passes = append(out.Report.Passes, model.CorrectionPass{
			Pass:               pass,
			Summary:            res.Summary,
			Attempts:           res.Attempts,
			ConceptsBefore:     before,
			ConceptsAfter:      out.Concepts,
			Confidence:         confidence,
			NeedsFurtherReview: res.NeedsFurtherReview,
		})
		out.Report.Log = append(out.Report.Log, fmt.Sprintf("Pass %d summary: %s", pass, firstLine(res.Summary)))

		if !res.NeedsFurtherReview {
			out.Report.Log = append(out.Report.Log, fmt.Sprintf("No further review needed after pass %d.", pass))
			break
		}
		out.Report.Log = append(out.Report.Log, fmt.Sprintf("Pass %d completed; needs further review.", pass))
	}

	if out.Report.PassesRun >= l.maxPasses && needsReview {
		out.Report.Log = append(out.Report.Log, fmt.Sprintf("Max passes (%d) reached; needs further review remains true.", l.maxPasses))
		zap.L().Warn("correction: max passes reached with fields still improving",
			zap.Int("max_passes", l.maxPasses),
		)
	}
	out.Report.Log = append(out.Report.Log, "Self-correction loop finished.")
	out.Ambiguity = ambiguity
	out.Dependencies = dependencies
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
