package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/concept-cli/internal/metrics"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/monitoring"
)

func newTestRouter(t *testing.T, ext extractor) (http.Handler, *pipelineEnv) {
	t.Helper()
	env := newTestEnv(t, ext)
	env.Metrics = metrics.New(false)
	collector := monitoring.NewCollector(env.Store, 0.6)
	return newRouter(env, collector, []string{"*"}, 1<<20), env
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, &mockExtractor{})

	rr := doRequest(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, env := newTestRouter(t, &mockExtractor{})
	env.Metrics.ObserveChunks(3, 1)

	rr := doRequest(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "concept_")
}

func TestExtractEndpoint(t *testing.T) {
	ext := &mockExtractor{}
	h, env := newTestRouter(t, ext)

	ext.On("Run", mock.Anything, mock.MatchedBy(func(d model.Document) bool {
		return d.ID == "doc-1" && d.Title == "Swarm" && d.Text == "Agents cooperate." &&
			assert.ObjectsAreEqual([]string{"agents", "swarm"}, d.Keywords)
	})).Return(sampleResult("doc-1", 0.7), nil)

	body := `{"document_id":"doc-1","title":"Swarm","keywords":[" agents ","","swarm"],"text":"Agents cooperate."}`
	rr := doRequest(h, http.MethodPost, "/v1/extract", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Run-ID"))

	var res map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	concepts, ok := res["concepts"].(map[string]any)
	require.True(t, ok)
	for _, c := range model.Categories {
		assert.Contains(t, concepts, string(c))
	}
	assert.InDelta(t, 0.7, res["overall_confidence"], 0.001)

	stored, err := env.Store.GetResultByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", stored.DocumentID)
	ext.AssertExpectations(t)
}

func TestExtractEndpoint_EmptyResultKeepsFourKeys(t *testing.T) {
	ext := &mockExtractor{}
	h, _ := newTestRouter(t, ext)

	empty := &model.ExtractionResult{DocumentID: "doc-empty", Concepts: model.NewConceptSet(), OverallConfidence: 0.5}
	ext.On("Run", mock.Anything, mock.Anything).Return(empty, nil)

	rr := doRequest(h, http.MethodPost, "/v1/extract", `{"document_id":"doc-empty","text":"unparseable everywhere"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var res struct {
		Concepts map[string][]any `json:"concepts"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Len(t, res.Concepts, 4)
	for _, c := range model.Categories {
		assert.Empty(t, res.Concepts[string(c)])
	}
}

func TestExtractEndpoint_InvalidBody(t *testing.T) {
	h, _ := newTestRouter(t, &mockExtractor{})

	rr := doRequest(h, http.MethodPost, "/v1/extract", "not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestExtractEndpoint_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, &mockExtractor{})
	h := newRouter(env, nil, []string{"*"}, 16)

	rr := doRequest(h, http.MethodPost, "/v1/extract", `{"text":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExtractEndpoint_PipelineError(t *testing.T) {
	ext := &mockExtractor{}
	h, _ := newTestRouter(t, ext)
	ext.On("Run", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	rr := doRequest(h, http.MethodPost, "/v1/extract", `{"document_id":"doc-x","text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "extraction failed")
}

func TestGetResultEndpoint(t *testing.T) {
	h, env := newTestRouter(t, &mockExtractor{})
	storeWithResult(t, env, "doc-7")

	rr := doRequest(h, http.MethodGet, "/v1/results/doc-7", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var res model.ExtractionResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "doc-7", res.DocumentID)
	assert.Equal(t, []string{"Simulation"}, res.Concepts.Values(model.CategoryMethods))
}

func TestGetResultEndpoint_NotFound(t *testing.T) {
	h, _ := newTestRouter(t, &mockExtractor{})

	rr := doRequest(h, http.MethodGet, "/v1/results/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunEndpoints(t *testing.T) {
	h, env := newTestRouter(t, &mockExtractor{})
	run := storeWithResult(t, env, "doc-8")

	rr := doRequest(h, http.MethodGet, "/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Run
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, model.RunStatusComplete, got.Status)

	rr = doRequest(h, http.MethodGet, "/v1/runs?document_id=doc-8&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&runs))
	assert.Len(t, runs, 1)

	rr = doRequest(h, http.MethodGet, "/v1/runs?status=failed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = doRequest(h, http.MethodGet, "/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatsEndpoint(t *testing.T) {
	h, env := newTestRouter(t, &mockExtractor{})
	storeWithResult(t, env, "doc-9")

	rr := doRequest(h, http.MethodGet, "/v1/stats?hours=1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.LookbackHours)
	assert.Equal(t, 1, snap.QAInvalid)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, &mockExtractor{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/extract", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
