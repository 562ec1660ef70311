// Package store persists extraction runs, their results and the
// corpus-level dependency graph.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/concept-cli/internal/model"
)

// ErrNotFound is returned, wrapped, when a run or result does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	DocumentID   string          `json:"document_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for extraction runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, doc model.Document) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FailRun(ctx context.Context, runID string, reason string) error
	SaveResult(ctx context.Context, runID string, result *model.ExtractionResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetResultByDocument(ctx context.Context, documentID string) (*model.ExtractionResult, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Dependency graph. SaveGraph adds delta to the stored counts.
	LoadGraph(ctx context.Context) (map[model.Category]map[model.Category]int, error)
	SaveGraph(ctx context.Context, delta map[model.Category]map[model.Category]int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// edgeRows flattens a delta into (from, to, count) rows in canonical
// category order, skipping self edges and zero counts.
func edgeRows(delta map[model.Category]map[model.Category]int) [][]any {
	var rows [][]any
	for _, from := range model.Categories {
		for _, to := range model.Categories {
			if n := delta[from][to]; from != to && n != 0 {
				rows = append(rows, []any{string(from), string(to), n})
			}
		}
	}
	return rows
}

// addEdge records a loaded edge, ignoring categories this build does not know.
func addEdge(graph map[model.Category]map[model.Category]int, from, to string, n int) {
	f, ok := model.ParseCategory(from)
	if !ok {
		return
	}
	t, ok := model.ParseCategory(to)
	if !ok || f == t {
		return
	}
	if graph[f] == nil {
		graph[f] = make(map[model.Category]int)
	}
	graph[f][t] += n
}
