package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/scoring"
)

// QA defaults and penalties.
const (
	DefaultQAMaxItems  = 20
	DefaultQAMinLength = 3
	DefaultQAMaxLength = 250

	penaltyMissingCategory = 0.1
	penaltyNoConcepts      = 0.3
	penaltyOverCap         = 0.15
	penaltyLength          = 0.05
	penaltyArtifact        = 0.1
	penaltyDuplicate       = 0.05
)

// QAValidator runs final structural checks over a concept set.
type QAValidator struct {
	placeholders []string
	maxItems     int
	minLen       int
	maxLen       int
}

// NewQAValidator creates a validator. Non-positive limits use the defaults.
func NewQAValidator(lex *lexicon.Lexicon, maxItems, minLen, maxLen int) *QAValidator {
	if maxItems <= 0 {
		maxItems = DefaultQAMaxItems
	}
	if minLen <= 0 {
		minLen = DefaultQAMinLength
	}
	if maxLen <= 0 {
		maxLen = DefaultQAMaxLength
	}
	return &QAValidator{
		placeholders: lex.PlaceholderPrefixes(),
		maxItems:     maxItems,
		minLen:       minLen,
		maxLen:       maxLen,
	}
}

// Validate checks cs against document. Values are never modified; missing
// categories are injected as empty lists.
func (v *QAValidator) Validate(document string, cs model.ConceptSet) model.QAResult {
	res := model.QAResult{Valid: true, Issues: []string{}, Concepts: cs.Clone()}
	score := 1.0

	for _, c := range model.Categories {
		if !cs.Present(c) {
			res.Issues = append(res.Issues, fmt.Sprintf("Missing %q category in extracted concepts.", c))
			res.Valid = false
			score -= penaltyMissingCategory
		}
	}

	if cs.Total() == 0 {
		res.Issues = append(res.Issues, "No concepts were extracted from the document.")
		score -= penaltyNoConcepts
	}

	for _, c := range model.Categories {
		values := cs.Values(c)
		if len(values) > v.maxItems {
			res.Issues = append(res.Issues, fmt.Sprintf("Category %q has %d concepts, exceeding the maximum of %d.", c, len(values), v.maxItems))
			res.Valid = false
			score -= penaltyOverCap
		}

		seen := make(map[string]struct{}, len(values))
		for _, val := range values {
			n := utf8.RuneCountInString(val)
			switch {
			case n < v.minLen:
				res.Issues = append(res.Issues, fmt.Sprintf("Concept %q in %q is very short (length %d).", preview(val), c, n))
				score -= penaltyLength
			case n > v.maxLen:
				res.Issues = append(res.Issues, fmt.Sprintf("Concept %q in %q is very long (length %d).", preview(val), c, n))
				score -= penaltyLength
			}

			if v.isPlaceholder(val) || isDocumentPrefix(val, document) {
				res.Issues = append(res.Issues, fmt.Sprintf("Concept %q in %q looks like a placeholder or a copied snippet.", preview(val), c))
				score -= penaltyArtifact
			}

			key := strings.ToLower(strings.TrimSpace(val))
			if _, dup := seen[key]; dup {
				res.Issues = append(res.Issues, fmt.Sprintf("Concept %q in %q duplicates an earlier value.", preview(val), c))
				score -= penaltyDuplicate
			}
			seen[key] = struct{}{}
		}
	}

	res.Confidence = scoring.Round(scoring.Clamp(score))
	if len(res.Issues) > 0 {
		zap.L().Debug("qa: issues found",
			zap.Bool("valid", res.Valid),
			zap.Int("issues", len(res.Issues)),
			zap.Float64("confidence", res.Confidence),
		)
	}
	return res
}

func (v *QAValidator) isPlaceholder(val string) bool {
	lower := strings.ToLower(val)
	for _, p := range v.placeholders {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// isDocumentPrefix reports whether val is exactly the opening text of the
// document.
func isDocumentPrefix(val, document string) bool {
	return val != "" && strings.HasPrefix(document, val)
}

func preview(s string) string {
	const limit = 30
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
