// Package normalize folds alias field names onto the canonical categories
// and splits compound values into separate concepts.
package normalize

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
)

// Normalizer maps sanitized reply fields to a ConceptSet.
type Normalizer struct {
	lex *lexicon.Lexicon
}

// New creates a Normalizer backed by lex.
func New(lex *lexicon.Lexicon) *Normalizer {
	return &Normalizer{lex: lex}
}

// Normalize folds fields into the four canonical categories. Unrecognized
// keys are dropped. Every returned concept has source Normalizer.
func (n *Normalizer) Normalize(fields map[string][]string) model.ConceptSet {
	values := make(map[model.Category][]string, len(model.Categories))
	for _, c := range model.Categories {
		values[c] = []string{}
	}

	for _, key := range orderedKeys(fields) {
		cat, ok := n.lex.Canonical(key)
		if !ok {
			zap.L().Debug("normalize: dropping unrecognized field", zap.String("field", key))
			continue
		}
		for _, raw := range fields[key] {
			for _, part := range n.split(raw) {
				if n.isEmpty(part) {
					continue
				}
				values[cat] = append(values[cat], part)
			}
		}
	}

	return model.ConceptSetFromValues(values, model.SourceNormalizer)
}

// split breaks a compound value on the configured separators. Serialized
// JSON and sanitizer placeholders are kept whole.
func (n *Normalizer) split(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
		return []string{v}
	}

	parts := []string{v}
	for _, sep := range n.lex.Separators() {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (n *Normalizer) isEmpty(v string) bool {
	return n.lex.IsEmptyMarker(strings.TrimRight(strings.TrimSpace(v), "."))
}

// orderedKeys returns canonical names before aliases, each group sorted, so
// the order of values within a category does not depend on map iteration.
func orderedKeys(fields map[string][]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	isCanonical := func(k string) bool {
		_, ok := model.ParseCategory(lexicon.NormalizeKey(k))
		return ok
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := isCanonical(keys[i]), isCanonical(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})
	return keys
}
