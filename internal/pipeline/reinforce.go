package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/scoring"
)

// DefaultReinforcementThreshold is the field confidence below which a
// category is targeted for recovery.
const DefaultReinforcementThreshold = 0.6

// ReinforceInput is the state a reinforcement pass works from.
type ReinforceInput struct {
	Concepts   model.ConceptSet
	Ambiguity  []model.AmbiguityScore
	Confidence model.ConfidenceResult
	Document   string
}

// ReinforceOutput is the result of one reinforcement pass.
type ReinforceOutput struct {
	Concepts           model.ConceptSet
	Summary            string
	Attempts           []model.RecoveryAttempt
	NeedsFurtherReview bool
}

// Improved reports which categories this pass filled.
func (o ReinforceOutput) Improved() map[model.Category]bool {
	out := make(map[model.Category]bool)
	for _, a := range o.Attempts {
		if a.Outcome == model.OutcomeImproved {
			out[a.Field] = true
		}
	}
	return out
}

// ReinforcementAgent fills empty low-confidence categories by scanning the
// document for known domain keywords.
type ReinforcementAgent struct {
	lex       *lexicon.Lexicon
	threshold float64
}

// NewReinforcementAgent creates an agent. A negative threshold uses
// DefaultReinforcementThreshold; zero targets only ambiguous fields.
func NewReinforcementAgent(lex *lexicon.Lexicon, threshold float64) *ReinforcementAgent {
	if threshold < 0 {
		threshold = DefaultReinforcementThreshold
	}
	return &ReinforcementAgent{lex: lex, threshold: threshold}
}

// Refine runs one reinforcement pass. It never modifies in.Concepts.
func (a *ReinforcementAgent) Refine(ctx context.Context, in ReinforceInput) ReinforceOutput {
	out := ReinforceOutput{Concepts: in.Concepts.Clone()}
	doc := strings.ToLower(in.Document)

	var notes []string
	for _, c := range model.Categories {
		if ctx.Err() != nil {
			break
		}
		attempt := a.refineField(c, in, doc)
		if attempt.Outcome == model.OutcomeImproved {
			concepts := make([]model.Concept, 0, len(attempt.After))
			for _, v := range attempt.After {
				concepts = append(concepts, model.NewConcept(v, model.SourceReinforcement))
			}
			out.Concepts = out.Concepts.With(c, concepts)
			out.NeedsFurtherReview = true
			notes = append(notes, fmt.Sprintf("Recovered [%s] for field '%s' via document keyword scan.",
				strings.Join(attempt.After, ", "), c))
		}
		out.Attempts = append(out.Attempts, attempt)
	}

	switch {
	case len(notes) > 0:
		out.Summary = strings.Join(notes, " ")
	case anyTargeted(out.Attempts):
		out.Summary = "Low-confidence fields reviewed; no keywords recovered."
	default:
		out.Summary = "All fields above threshold with no ambiguity; concepts passed through."
	}

	zap.L().Debug("reinforce: pass complete",
		zap.Bool("needs_further_review", out.NeedsFurtherReview),
		zap.String("summary", out.Summary),
	)
	return out
}

func (a *ReinforcementAgent) refineField(c model.Category, in ReinforceInput, doc string) model.RecoveryAttempt {
	before := in.Concepts.Values(c)
	attempt := model.RecoveryAttempt{
		Field:    c,
		Strategy: model.StrategyNone,
		Outcome:  model.OutcomeSkipped,
		Before:   before,
		After:    before,
	}

	amb := scoring.AmbiguityFor(in.Ambiguity, c)
	conf := a.threshold
	if fc, ok := in.Confidence.Field(c); ok {
		conf = fc.Score
	}
	if conf >= a.threshold && amb.Score <= 0 {
		attempt.Details = fmt.Sprintf("confidence %.3f at or above %.2f, no ambiguity", conf, a.threshold)
		return attempt
	}

	if len(before) > 0 {
		attempt.Outcome = model.OutcomeNoChange
		attempt.Details = fmt.Sprintf("field has content (%s); retained", amb.Reason)
		return attempt
	}

	keywords := a.lex.RecoveryKeywords(c)
	attempt.Strategy = model.StrategyKeywordSearch
	attempt.Query = strings.Join(keywords, ", ")

	var found []string
	for _, kw := range keywords {
		if strings.Contains(doc, strings.ToLower(kw)) {
			found = append(found, kw)
		}
	}
	if len(found) == 0 {
		attempt.Outcome = model.OutcomeNoMatch
		attempt.Details = "no recovery keywords found in document"
		return attempt
	}

	attempt.Outcome = model.OutcomeImproved
	attempt.After = found
	attempt.Details = fmt.Sprintf("%d keyword(s) found in document", len(found))
	return attempt
}

func anyTargeted(attempts []model.RecoveryAttempt) bool {
	for _, a := range attempts {
		if a.Outcome != model.OutcomeSkipped {
			return true
		}
	}
	return false
}
