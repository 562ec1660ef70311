package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/concept-cli/internal/gateway"
	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
)

const (
	twoParagraphDoc = "Agents use modularity and robustness.\n\nThe team applies game theory here."
	plainDoc        = "Plain first paragraph here.\n\nAnother plain paragraph follows."
)

func newTestPipeline(gw gateway.Gateway, opts ...Option) *Pipeline {
	base := []Option{WithChunker(wordChunker(6)), WithModelID("test-model")}
	return New(gw, lexicon.Default(), append(base, opts...)...)
}

func fieldScore(t *testing.T, r *model.ExtractionResult, c model.Category) float64 {
	t.Helper()
	for _, fc := range r.FieldConfidences {
		if fc.Field == c {
			return fc.Score
		}
	}
	t.Fatalf("no confidence for %s", c)
	return 0
}

func TestRun_EndToEnd(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.MatchedBy(func(req gateway.Request) bool {
		return req.ChunkIndex == 0 && req.DocumentID == "doc-1" && req.Metadata.Title == "Swarms"
	})).Return(reply(`{"principles": ["modularity", "robustness"], "methods": "none"}`), nil)
	gw.On("Extract", mock.Anything, chunkIs(1)).
		Return(reply("```json\n{\"theories\": [\"game theory\"], \"key principles\": [\"modularity\"]}\n```"), nil)

	rec := &recordingRecorder{}
	p := newTestPipeline(gw, WithRecorder(rec))

	res, err := p.Run(context.Background(), model.Document{ID: "doc-1", Title: "Swarms", Text: twoParagraphDoc})
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, "Swarms", res.Title)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, []string{"modularity", "robustness"}, res.Concepts.Values(model.CategoryPrinciples))
	assert.Equal(t, []string{"game theory"}, res.Concepts.Values(model.CategoryTheories))
	assert.Equal(t, 0, res.Concepts.Len(model.CategoryMethods))

	assert.InDelta(t, 0.85, fieldScore(t, res, model.CategoryPrinciples), 1e-9)
	assert.InDelta(t, 0.85, fieldScore(t, res, model.CategoryTheories), 1e-9)
	assert.InDelta(t, 0.6, fieldScore(t, res, model.CategoryMethods), 1e-9)
	assert.InDelta(t, 0.6, fieldScore(t, res, model.CategoryFrameworks), 1e-9)
	assert.InDelta(t, 0.725, res.OverallConfidence, 1e-9)

	assert.Equal(t, 1, res.Correction.PassesRun)
	assert.True(t, res.QA.Valid)
	assert.InDelta(t, 1.0, res.QA.Confidence, 1e-9)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 0, res.Diagnostics[0].Chunk)
	assert.Contains(t, res.Diagnostics[0].Issues, `field "methods" is not an array (got string), defaulting to []`)

	assert.Equal(t, int64(200), res.Usage.InputTokens)
	assert.Equal(t, int64(20), res.Usage.OutputTokens)

	assert.Equal(t, "Starting extraction pipeline.", res.ProcessingLog[0])
	assert.Contains(t, res.ProcessingLog, "Document split into 2 chunks.")
	assert.Contains(t, res.ProcessingLog, "Extraction complete for chunk 1/2 (5 tokens).")
	assert.Equal(t, "Extraction pipeline complete.", res.ProcessingLog[len(res.ProcessingLog)-1])

	assert.Equal(t, []string{"chunk", "extract", "score", "correct", "validate"}, rec.stages)
	assert.Equal(t, 2, rec.chunks)
	assert.Equal(t, 0, rec.failed)
	assert.Equal(t, 1, rec.documents)
	assert.True(t, rec.valid)
}

func TestRun_AllChunksFail(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, chunkIs(0)).
		Return(nil, &gateway.Error{Provider: "stub", Kind: gateway.KindTimeout, Err: context.DeadlineExceeded})
	gw.On("Extract", mock.Anything, chunkIs(1)).
		Return(reply("I could not find anything."), nil)

	rec := &recordingRecorder{}
	res, err := newTestPipeline(gw, WithRecorder(rec)).Run(context.Background(), model.Document{ID: "doc-2", Text: plainDoc})
	require.NoError(t, err)

	for _, c := range model.Categories {
		assert.True(t, res.Concepts.Present(c))
	}
	require.Len(t, res.Diagnostics, 2)
	assert.Contains(t, res.Diagnostics[0].Error, "timeout")
	assert.Equal(t, "I could not find anything.", res.Diagnostics[1].RawReply)

	assert.Contains(t, res.ProcessingLog, "All chunks failed to extract concepts; continuing with empty concepts.")
	assert.Contains(t, res.QA.Issues, "No concepts were extracted from the document.")
	assert.Equal(t, 2, rec.failed)

	// No recovery keyword appears in plainDoc.
	assert.InDelta(t, 0.5, res.OverallConfidence, 1e-9)
}

func TestRun_RecoveryFromDocumentText(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.Anything).Return(reply(`{"frameworks": ["actor model"]}`), nil)

	doc := model.Document{ID: "doc-3", Text: swarmDoc}
	res, err := New(gw, lexicon.Default(), WithChunker(wordChunker(2000))).Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"self-organization", "robustness"}, res.Concepts.Values(model.CategoryPrinciples))
	assert.Equal(t, []string{"agent-based modeling"}, res.Concepts.Values(model.CategoryMethods))
	assert.Equal(t, 2, res.Correction.PassesRun)
	assert.True(t, res.Correction.RecomputeSignals)

	// Recovered: 0.8 + 2 active deps + reinforcement.
	assert.InDelta(t, 0.95, fieldScore(t, res, model.CategoryPrinciples), 1e-9)
	// Theories stays empty: 0.5 + 3 active deps.
	assert.InDelta(t, 0.65, fieldScore(t, res, model.CategoryTheories), 1e-9)
}

func TestRun_ZeroCorrectionPasses(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.Anything).Return(reply(`{"frameworks": ["actor model"]}`), nil)

	res, err := New(gw, lexicon.Default(), WithChunker(wordChunker(2000)), WithCorrection(0, true)).
		Run(context.Background(), model.Document{ID: "doc-4", Text: swarmDoc})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Correction.PassesRun)
	assert.Equal(t, 0, res.Concepts.Len(model.CategoryPrinciples))
}

func TestRun_EmptyDocument(t *testing.T) {
	gw := &mockGateway{}

	res, err := newTestPipeline(gw).Run(context.Background(), model.Document{ID: "empty", Text: "  \n\n "})
	require.NoError(t, err)
	gw.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)

	assert.Equal(t, 0, res.ChunkCount)
	assert.Contains(t, res.ProcessingLog, "Document split into 0 chunks.")
	assert.NotContains(t, res.ProcessingLog, "All chunks failed to extract concepts; continuing with empty concepts.")
	assert.InDelta(t, 0.5, res.OverallConfidence, 1e-9)
}

func TestRun_FirstOccurrenceFollowsChunkOrder(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, chunkIs(0)).
		After(20*time.Millisecond).
		Return(reply(`{"methods": ["first chunk method", "shared method"]}`), nil)
	gw.On("Extract", mock.Anything, chunkIs(1)).
		Return(reply(`{"methods": ["shared method", "second chunk method"]}`), nil)

	res, err := newTestPipeline(gw).Run(context.Background(), model.Document{ID: "order", Text: twoParagraphDoc})
	require.NoError(t, err)
	assert.Equal(t, []string{"first chunk method", "shared method", "second chunk method"},
		res.Concepts.Values(model.CategoryMethods))
}

func TestRun_CanceledContext(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Provider: "stub", Kind: gateway.KindCanceled, Err: context.Canceled}).
		Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestPipeline(gw).Run(ctx, model.Document{ID: "c", Text: twoParagraphDoc})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_PersistedDependencyGraph(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.Anything).
		Return(reply(`{"principles": ["modularity"], "theories": ["game theory"]}`), nil)

	graphs := &mockGraphSource{}
	graphs.On("LoadGraph", mock.Anything).Return(map[model.Category]map[model.Category]int{
		model.CategoryPrinciples: {model.CategoryTheories: 5},
		model.CategoryTheories:   {model.CategoryPrinciples: 5},
	}, nil)
	graphs.On("SaveGraph", mock.Anything, mock.MatchedBy(func(delta map[model.Category]map[model.Category]int) bool {
		return len(delta) == 2 &&
			delta[model.CategoryPrinciples][model.CategoryTheories] == 1 &&
			delta[model.CategoryTheories][model.CategoryPrinciples] == 1
	})).Return(nil)

	p := New(gw, lexicon.Default(),
		WithChunker(wordChunker(2000)),
		WithGraphSource(graphs),
		WithDependencyThreshold(2),
		WithCorrection(0, true),
	)
	res, err := p.Run(context.Background(), model.Document{ID: "g", Text: "Plain text without keywords."})
	require.NoError(t, err)
	graphs.AssertExpectations(t)

	// Only the learned principles/theories edge clears the threshold.
	assert.InDelta(t, 0.85, fieldScore(t, res, model.CategoryPrinciples), 1e-9)
	assert.InDelta(t, 0.85, fieldScore(t, res, model.CategoryTheories), 1e-9)
	assert.InDelta(t, 0.5, fieldScore(t, res, model.CategoryMethods), 1e-9)
}

func TestRun_GraphSourceErrorsAreNotFatal(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Extract", mock.Anything, mock.Anything).
		Return(reply(`{"principles": ["modularity"], "methods": ["surveys"]}`), nil)

	graphs := &mockGraphSource{}
	graphs.On("LoadGraph", mock.Anything).Return(nil, errors.New("db down"))
	graphs.On("SaveGraph", mock.Anything, mock.Anything).Return(errors.New("db down"))

	res, err := New(gw, lexicon.Default(), WithChunker(wordChunker(2000)), WithGraphSource(graphs)).
		Run(context.Background(), model.Document{ID: "g2", Text: "Plain text."})
	require.NoError(t, err)
	assert.NotNil(t, res)
	graphs.AssertExpectations(t)
}
