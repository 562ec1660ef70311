package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/config"
	"github.com/sells-group/concept-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockExtractor is a testify mock of the pipeline.
type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Run(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
	args := m.Called(ctx, doc)
	if r := args.Get(0); r != nil {
		return r.(*model.ExtractionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// newTestEnv returns an env backed by a migrated SQLite store in a temp dir.
func newTestEnv(t *testing.T, ext extractor) *pipelineEnv {
	t.Helper()
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
	}

	st, err := openStore(context.Background())
	require.NoError(t, err)

	env := &pipelineEnv{Store: st, Pipeline: ext}
	t.Cleanup(env.Close)
	return env
}

func sampleResult(docID string, overall float64) *model.ExtractionResult {
	return &model.ExtractionResult{
		DocumentID: docID,
		Title:      "Swarm Systems",
		Concepts: model.ConceptSetFromValues(map[model.Category][]string{
			model.CategoryPrinciples: {"Modularity", "Robustness"},
			model.CategoryMethods:    {"Simulation"},
			model.CategoryTheories:   {"Game theory"},
		}, model.SourceAggregator),
		OverallConfidence: overall,
		FieldConfidences: []model.FieldConfidence{
			{Field: model.CategoryPrinciples, Score: 0.85, ContributingSignals: []model.Signal{
				{Type: model.SignalBase, Value: 0.8},
				{Type: model.SignalDependency, Value: 0.05},
			}},
			{Field: model.CategoryFrameworks, Score: 0.5},
		},
		AmbiguityScores: []model.AmbiguityScore{
			{Field: model.CategoryFrameworks, Score: 1, Reason: "empty"},
		},
		ProcessingLog: []string{"Document split into 1 chunks"},
		QA: model.QAResult{
			Valid:      false,
			Issues:     []string{"Missing category: frameworks"},
			Confidence: overall - 0.1,
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// storeWithResult creates a completed run for docID in env's store.
func storeWithResult(t *testing.T, env *pipelineEnv, docID string) *model.Run {
	t.Helper()
	ctx := context.Background()
	run, err := env.Store.CreateRun(ctx, model.Document{ID: docID, Title: "Swarm Systems"})
	require.NoError(t, err)
	require.NoError(t, env.Store.SaveResult(ctx, run.ID, sampleResult(docID, 0.7)))
	return run
}
