package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/chunker"
	"github.com/sells-group/concept-cli/internal/gateway"
	"github.com/sells-group/concept-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- Gateway Mock ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Extract(ctx context.Context, req gateway.Request) (*gateway.Reply, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Reply), args.Error(1)
}

// chunkIs matches a gateway request by chunk index.
func chunkIs(i int) any {
	return mock.MatchedBy(func(req gateway.Request) bool { return req.ChunkIndex == i })
}

// --- GraphSource Mock ---

type mockGraphSource struct {
	mock.Mock
}

func (m *mockGraphSource) LoadGraph(ctx context.Context) (map[model.Category]map[model.Category]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.Category]map[model.Category]int), args.Error(1)
}

func (m *mockGraphSource) SaveGraph(ctx context.Context, delta map[model.Category]map[model.Category]int) error {
	args := m.Called(ctx, delta)
	return args.Error(0)
}

// --- Recorder ---

type recordingRecorder struct {
	mu        sync.Mutex
	stages    []string
	chunks    int
	failed    int
	documents int
	valid     bool
}

func (r *recordingRecorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingRecorder) ObserveChunks(total, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks += total
	r.failed += failed
}

func (r *recordingRecorder) ObserveDocument(valid bool, _ float64, _ int, _, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents++
	r.valid = valid
}

// --- Helpers ---

// lineSplitter keeps chunking independent of the punkt model.
type lineSplitter struct{}

func (lineSplitter) Split(text string) []string { return strings.Split(text, "\n") }

func wordChunker(maxTokens int) *chunker.Chunker {
	return chunker.New(
		chunker.WithTokenizer(chunker.WordTokenizer{}),
		chunker.WithSentenceSplitter(lineSplitter{}),
		chunker.WithMaxTokens(maxTokens),
		chunker.WithTargetWords(maxTokens),
	)
}

func reply(text string) *gateway.Reply {
	return &gateway.Reply{Text: text, Model: "test-model", Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 10}}
}
