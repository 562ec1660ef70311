package chunker

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/rotisserie/eris"
)

// Tokenizer counts and truncates text in model tokens.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Encoding names understood by TokenizerForModel.
const (
	EncodingCL100K = "cl100k_base"
	EncodingO200K  = "o200k_base"
)

var installLoader sync.Once

// EncodingForModel maps a model identifier to a BPE encoding. Unknown
// models fall back to cl100k_base.
func EncodingForModel(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(id, "gpt-4o"), strings.HasPrefix(id, "gpt-4.1"), strings.HasPrefix(id, "o1"), strings.HasPrefix(id, "o3"):
		return EncodingO200K
	default:
		return EncodingCL100K
	}
}

// BPETokenizer counts tokens with a tiktoken encoding. Safe for concurrent use.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewBPETokenizer loads the named encoding from the offline BPE tables.
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	installLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "chunker: load encoding %s", encoding)
	}
	return &BPETokenizer{enc: enc}, nil
}

// TokenizerForModel returns the BPE tokenizer matching modelID.
func TokenizerForModel(modelID string) (*BPETokenizer, error) {
	return NewBPETokenizer(EncodingForModel(modelID))
}

func (t *BPETokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *BPETokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// WordTokenizer approximates tokens as whitespace-separated words. It needs
// no tables and is used for dry runs and tests.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func (WordTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
