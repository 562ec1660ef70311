package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// words returns a paragraph of n distinct words with no sentence breaks.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

// lineSplitter splits on newlines so tests do not depend on the punkt model.
type lineSplitter struct{}

func (lineSplitter) Split(text string) []string {
	return strings.Split(text, "\n")
}

func newWordChunker(opts ...Option) *Chunker {
	base := []Option{WithTokenizer(WordTokenizer{}), WithSentenceSplitter(lineSplitter{})}
	return New(append(base, opts...)...)
}

func TestChunk_Empty(t *testing.T) {
	c := newWordChunker()

	chunks, err := c.Chunk("", "gpt-4")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk("   \n\n\t  ", "gpt-4")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_SmallDocumentSingleChunk(t *testing.T) {
	c := newWordChunker()

	doc := "First paragraph here.\n\nSecond paragraph here."
	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc, chunks[0].Text)
	assert.Equal(t, 6, chunks[0].TokenCount)
	assert.False(t, chunks[0].Truncated)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunk_TwoParagraphsFitOneChunk(t *testing.T) {
	c := newWordChunker()

	doc := words("alpha", 1000) + "\n\n" + words("beta", 800)
	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1800, chunks[0].TokenCount)
}

func TestChunk_ThirdParagraphForcesFlush(t *testing.T) {
	c := newWordChunker()

	doc := words("alpha", 1000) + "\n\n" + words("beta", 800) + "\n\n" + words("gamma", 400)
	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1800, chunks[0].TokenCount)
	assert.Equal(t, 400, chunks[1].TokenCount)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunk_OversizedParagraphTruncated(t *testing.T) {
	c := newWordChunker(WithMaxTokens(100), WithTargetWords(5))

	doc := words("small", 10) + "\n\n" + words("huge", 250) + "\n\n" + words("tail", 20)
	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.False(t, chunks[0].Truncated)
	assert.Equal(t, 10, chunks[0].TokenCount)

	assert.True(t, chunks[1].Truncated)
	assert.Equal(t, 100, chunks[1].TokenCount)

	assert.False(t, chunks[2].Truncated)
	assert.Equal(t, 20, chunks[2].TokenCount)
}

func TestChunk_NoChunkExceedsBudgetUnlessTruncated(t *testing.T) {
	c := newWordChunker(WithMaxTokens(300), WithTargetWords(120))

	var paras []string
	for i, n := range []int{50, 90, 200, 10, 310, 40, 120, 80} {
		paras = append(paras, words(string(rune('a'+i)), n))
	}
	chunks, err := c.Chunk(strings.Join(paras, "\n\n"), "gpt-4")
	require.NoError(t, err)

	for _, ch := range chunks {
		if !ch.Truncated {
			assert.LessOrEqual(t, ch.TokenCount, 300)
		}
	}
}

func TestChunk_ReconstructsDocument(t *testing.T) {
	c := newWordChunker(WithMaxTokens(50), WithTargetWords(20))

	var paras []string
	for i := 0; i < 12; i++ {
		paras = append(paras, words(string(rune('a'+i)), 5+i*3))
	}
	doc := strings.Join(paras, "\n\n")

	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)

	var rebuilt []string
	for _, ch := range chunks {
		require.False(t, ch.Truncated)
		rebuilt = append(rebuilt, strings.Fields(ch.Text)...)
	}
	assert.Equal(t, strings.Fields(doc), rebuilt)
}

func TestChunk_SingleParagraphFallsBackToSentences(t *testing.T) {
	c := newWordChunker(WithMaxTokens(30), WithTargetWords(10))

	lines := []string{
		words("one", 6),
		words("two", 6),
		words("three", 6),
		words("four", 6),
		words("five", 6),
		words("six", 6),
	}
	doc := strings.Join(lines, "\n")

	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 30, chunks[0].TokenCount)
	assert.Equal(t, 6, chunks[1].TokenCount)

	var rebuilt []string
	for _, ch := range chunks {
		rebuilt = append(rebuilt, strings.Fields(ch.Text)...)
	}
	assert.Equal(t, strings.Fields(doc), rebuilt)
}

func TestChunk_MergesShortParagraphs(t *testing.T) {
	c := newWordChunker(WithTargetWords(10))

	doc := "a b c\n\nd e f\n\ng h i\n\nj k l"
	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a b c\n\nd e f\n\ng h i\n\nj k l", chunks[0].Text)
}

func TestChunk_Deterministic(t *testing.T) {
	c := newWordChunker(WithMaxTokens(40), WithTargetWords(15))
	doc := words("x", 30) + "\n\n" + words("y", 25) + "\n\n" + words("z", 60)

	first, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	second, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb\nc", Normalize("a\r\nb\rc"))
	// e + combining acute accent composes to a single rune.
	assert.Equal(t, "\u00e9", Normalize("e\u0301"))
}

func TestWordTokenizer(t *testing.T) {
	tok := WordTokenizer{}
	assert.Equal(t, 3, tok.Count("one  two\nthree"))
	assert.Equal(t, "one two", tok.Truncate("one two three", 2))
	assert.Equal(t, "one two", tok.Truncate("one two", 5))
	assert.Equal(t, "", tok.Truncate("one two", 0))
}

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4-turbo-preview", EncodingCL100K},
		{"gpt-3.5-turbo", EncodingCL100K},
		{"deepseek-chat", EncodingCL100K},
		{"claude-sonnet-4-5-20250929", EncodingCL100K},
		{"gpt-4o-mini", EncodingO200K},
		{"", EncodingCL100K},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodingForModel(tt.model))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(WithMaxTokens(0), WithTargetWords(-1))
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens())
	assert.Equal(t, DefaultTargetWords, c.targetWords)
}

func TestChunk_MergeRespectsTokenBudget(t *testing.T) {
	c := newWordChunker(WithMaxTokens(100))
	doc := words("a", 60) + "\n\n" + words("b", 60) + "\n\n" + words("c", 60)

	chunks, err := c.Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	var kept int
	for _, ch := range chunks {
		assert.False(t, ch.Truncated)
		assert.LessOrEqual(t, ch.TokenCount, 100)
		kept += len(strings.Fields(ch.Text))
	}
	assert.Equal(t, 180, kept)
}

func TestChunk_CJKParagraphsKeptWhole(t *testing.T) {
	tok, err := TokenizerForModel("gpt-4")
	require.NoError(t, err)

	para := strings.Repeat("知识框架理论方法原则", 80)
	n := tok.Count(para)
	require.Less(t, n, DefaultMaxTokens)
	require.Greater(t, 3*n, DefaultMaxTokens)

	doc := para + "\n\n" + para + "\n\n" + para
	chunks, err := New().Chunk(doc, "gpt-4")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	var runes int
	for _, ch := range chunks {
		assert.False(t, ch.Truncated)
		assert.LessOrEqual(t, ch.TokenCount, DefaultMaxTokens)
		runes += len([]rune(strings.ReplaceAll(ch.Text, "\n\n", "")))
	}
	assert.Equal(t, 3*len([]rune(para)), runes)
}
