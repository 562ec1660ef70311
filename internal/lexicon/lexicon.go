// Package lexicon holds the immutable lookup tables used by the extraction
// pipeline: category aliases, empty and hedging markers, recovery keywords,
// placeholder prefixes and dependency priors. Components receive a *Lexicon
// at construction; nothing reads package-level tables directly.
package lexicon

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/concept-cli/internal/model"
)

//go:embed lexicon.yaml
var defaultYAML []byte

// file mirrors lexicon.yaml.
type file struct {
	Version             int                       `yaml:"version"`
	Aliases             map[string][]string       `yaml:"aliases"`
	EmptyMarkers        []string                  `yaml:"empty_markers"`
	Separators          []string                  `yaml:"separators"`
	HedgingMarkers      []string                  `yaml:"hedging_markers"`
	RecoveryKeywords    map[string][]string       `yaml:"recovery_keywords"`
	PlaceholderPrefixes []string                  `yaml:"placeholder_prefixes"`
	DependencyPriors    map[string]map[string]int `yaml:"dependency_priors"`
}

// Lexicon is a read-only set of lookup tables. All accessors return copies.
type Lexicon struct {
	version      int
	aliases      map[string]model.Category
	emptyMarkers map[string]struct{}
	separators   []string
	hedging      []string
	recovery     map[model.Category][]string
	placeholders []string
	priors       map[model.Category]map[model.Category]int
}

var loadDefault = sync.OnceValues(func() (*Lexicon, error) {
	return Parse(defaultYAML)
})

// Default returns the tables embedded in the binary.
func Default() *Lexicon {
	l, err := loadDefault()
	if err != nil {
		panic(eris.Wrap(err, "lexicon: embedded tables are invalid"))
	}
	return l
}

// Load reads tables from a YAML file.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: read %s", path)
	}
	return Parse(data)
}

// Parse builds a Lexicon from YAML.
func Parse(data []byte) (*Lexicon, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "lexicon: parse")
	}

	l := &Lexicon{
		version:      f.Version,
		aliases:      make(map[string]model.Category),
		emptyMarkers: make(map[string]struct{}, len(f.EmptyMarkers)),
		recovery:     make(map[model.Category][]string),
		priors:       make(map[model.Category]map[model.Category]int),
	}

	for key, aliases := range f.Aliases {
		cat, ok := model.ParseCategory(key)
		if !ok {
			return nil, eris.Errorf("lexicon: unknown category %q in aliases", key)
		}
		// The canonical name always resolves to itself.
		aliases = append(aliases, string(cat))
		for _, alias := range aliases {
			norm := NormalizeKey(alias)
			if prev, dup := l.aliases[norm]; dup && prev != cat {
				return nil, eris.Errorf("lexicon: alias %q maps to both %s and %s", alias, prev, cat)
			}
			l.aliases[norm] = cat
		}
	}
	for _, cat := range model.Categories {
		l.aliases[string(cat)] = cat
	}

	for _, m := range f.EmptyMarkers {
		l.emptyMarkers[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}

	for _, s := range f.Separators {
		if s != "" {
			l.separators = append(l.separators, s)
		}
	}

	for _, m := range f.HedgingMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			l.hedging = append(l.hedging, m)
		}
	}

	for key, kws := range f.RecoveryKeywords {
		cat, ok := model.ParseCategory(key)
		if !ok {
			return nil, eris.Errorf("lexicon: unknown category %q in recovery_keywords", key)
		}
		l.recovery[cat] = append([]string(nil), kws...)
	}

	for _, p := range f.PlaceholderPrefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			l.placeholders = append(l.placeholders, p)
		}
	}

	for from, edges := range f.DependencyPriors {
		fromCat, ok := model.ParseCategory(from)
		if !ok {
			return nil, eris.Errorf("lexicon: unknown category %q in dependency_priors", from)
		}
		l.priors[fromCat] = make(map[model.Category]int, len(edges))
		for to, strength := range edges {
			toCat, ok := model.ParseCategory(to)
			if !ok {
				return nil, eris.Errorf("lexicon: unknown category %q in dependency_priors.%s", to, from)
			}
			if toCat == fromCat {
				continue
			}
			l.priors[fromCat][toCat] = strength
		}
	}

	return l, nil
}

// NormalizeKey lowercases key, treats underscores and hyphens as spaces, and
// collapses runs of whitespace.
func NormalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	return strings.Join(strings.Fields(key), " ")
}

// Version returns the table version declared in the source file.
func (l *Lexicon) Version() int { return l.version }

// Canonical resolves a field name or alias to its category.
func (l *Lexicon) Canonical(key string) (model.Category, bool) {
	cat, ok := l.aliases[NormalizeKey(key)]
	return cat, ok
}

// Aliases returns every alias that resolves to cat, sorted.
func (l *Lexicon) Aliases(cat model.Category) []string {
	var out []string
	for alias, c := range l.aliases {
		if c == cat {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// IsEmptyMarker reports whether v is a placeholder for "no value".
func (l *Lexicon) IsEmptyMarker(v string) bool {
	_, ok := l.emptyMarkers[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// Separators returns the compound-value separators.
func (l *Lexicon) Separators() []string {
	return append([]string(nil), l.separators...)
}

// HedgingMarkers returns the lowercase hedging markers.
func (l *Lexicon) HedgingMarkers() []string {
	return append([]string(nil), l.hedging...)
}

// RecoveryKeywords returns the keyword list searched when cat is empty.
func (l *Lexicon) RecoveryKeywords(cat model.Category) []string {
	return append([]string(nil), l.recovery[cat]...)
}

// PlaceholderPrefixes returns the lowercase prefixes that mark artifacts.
func (l *Lexicon) PlaceholderPrefixes() []string {
	return append([]string(nil), l.placeholders...)
}

// Priors returns a copy of the seed dependency edges.
func (l *Lexicon) Priors() map[model.Category]map[model.Category]int {
	out := make(map[model.Category]map[model.Category]int, len(l.priors))
	for from, edges := range l.priors {
		out[from] = make(map[model.Category]int, len(edges))
		for to, s := range edges {
			out[from][to] = s
		}
	}
	return out
}
