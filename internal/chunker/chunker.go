// Package chunker splits document text into token-bounded chunks along
// paragraph and sentence boundaries.
package chunker

import (
	"regexp"
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/concept-cli/internal/model"
)

const (
	// DefaultMaxTokens is the per-chunk token budget.
	DefaultMaxTokens = 2000
	// DefaultTargetWords is the pseudo-paragraph size used when merging.
	DefaultTargetWords = 500
)

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// SentenceSplitter segments a block of text into sentences.
type SentenceSplitter interface {
	Split(text string) []string
}

// Chunker produces ordered, non-overlapping chunks.
type Chunker struct {
	maxTokens   int
	targetWords int
	tokenizer   Tokenizer
	splitter    SentenceSplitter
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the per-chunk token budget.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTargetWords sets the word target for merged paragraphs.
func WithTargetWords(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetWords = n
		}
	}
}

// WithTokenizer fixes the tokenizer instead of resolving it per model.
func WithTokenizer(t Tokenizer) Option {
	return func(c *Chunker) { c.tokenizer = t }
}

// WithSentenceSplitter replaces the default English sentence splitter.
func WithSentenceSplitter(s SentenceSplitter) Option {
	return func(c *Chunker) { c.splitter = s }
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:   DefaultMaxTokens,
		targetWords: DefaultTargetWords,
	}
	for _, o := range opts {
		o(c)
	}
	if c.splitter == nil {
		c.splitter = punktSplitter{}
	}
	return c
}

// MaxTokens returns the configured token budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Chunk splits text for modelID. Empty input yields no chunks. The only
// error is failure to load the model's tokenizer.
func (c *Chunker) Chunk(text, modelID string) ([]model.Chunk, error) {
	text = Normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	tok := c.tokenizer
	if tok == nil {
		bpe, err := TokenizerForModel(modelID)
		if err != nil {
			return nil, eris.Wrap(err, "chunker: resolve tokenizer")
		}
		tok = bpe
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) <= 1 {
		if sents := c.splitter.Split(paragraphs[0]); len(sents) > 0 {
			paragraphs = c.groupWords(sents, " ", tok)
		}
	}
	paragraphs = c.groupWords(paragraphs, "\n\n", tok)

	return c.pack(paragraphs, tok), nil
}

// Normalize converts text to NFC and unifies line endings.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(text)
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// groupWords greedily joins adjacent parts while the group stays under the
// word target and within the token budget. A part that alone reaches either
// limit forms its own group.
func (c *Chunker) groupWords(parts []string, sep string, tok Tokenizer) []string {
	var (
		out   []string
		buf   []string
		words int
	)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := len(strings.Fields(p))
		if len(buf) > 0 && (words+n >= c.targetWords || c.overBudget(buf, p, sep, tok)) {
			out = append(out, strings.Join(buf, sep))
			buf, words = nil, 0
		}
		buf = append(buf, p)
		words += n
	}
	if len(buf) > 0 {
		out = append(out, strings.Join(buf, sep))
	}
	return out
}

// overBudget reports whether appending p to buf would pass maxTokens.
func (c *Chunker) overBudget(buf []string, p, sep string, tok Tokenizer) bool {
	joined := strings.Join(buf, sep) + sep + p
	return tok.Count(joined) > c.maxTokens
}

func (c *Chunker) pack(paragraphs []string, tok Tokenizer) []model.Chunk {
	var (
		chunks []model.Chunk
		buf    []string
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n\n")
		chunks = append(chunks, model.Chunk{
			Index:      len(chunks),
			Text:       text,
			TokenCount: tok.Count(text),
		})
		buf = nil
	}

	for _, p := range paragraphs {
		candidate := strings.Join(append(append([]string(nil), buf...), p), "\n\n")
		if tok.Count(candidate) <= c.maxTokens {
			buf = append(buf, p)
			continue
		}

		flush()

		if n := tok.Count(p); n > c.maxTokens {
			truncated := tok.Truncate(p, c.maxTokens)
			zap.L().Warn("chunker: paragraph exceeds token budget, truncating",
				zap.Int("tokens", n),
				zap.Int("max_tokens", c.maxTokens),
				zap.Int("chunk", len(chunks)),
			)
			chunks = append(chunks, model.Chunk{
				Index:      len(chunks),
				Text:       truncated,
				TokenCount: tok.Count(truncated),
				Truncated:  true,
			})
			continue
		}
		buf = []string{p}
	}
	flush()

	return chunks
}

var loadPunkt = sync.OnceValues(func() (*sentences.DefaultSentenceTokenizer, error) {
	return english.NewSentenceTokenizer(nil)
})

// punktSplitter segments English text with the pretrained punkt model.
type punktSplitter struct{}

func (punktSplitter) Split(text string) []string {
	t, err := loadPunkt()
	if err != nil {
		zap.L().Warn("chunker: sentence model unavailable, using line split", zap.Error(err))
		return strings.Split(text, "\n")
	}
	var out []string
	for _, s := range t.Tokenize(text) {
		if v := strings.TrimSpace(s.Text); v != "" {
			out = append(out, v)
		}
	}
	return out
}
