package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/jobs"
	"graph-memory/backend/internal/memory"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/internal/validation"
	"graph-memory/backend/pkg/config"
)

type tableEmbedder map[string][]float32

func (t tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := t[text]; ok {
		return graph.Normalize(append([]float32(nil), v...)), nil
	}
	return []float32{0, 0, 0, 1}, nil
}

type testServer struct {
	router *gin.Engine
	store  *graph.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	store := graph.NewMemoryStore()
	m := metrics.NewCollector("graph_memory_test")
	c, err := cache.New(cfg.Cache, m)
	require.NoError(t, err)

	svc := memory.NewService(memory.Deps{
		Store: store,
		Embedder: tableEmbedder{
			"Elon founded SpaceX": {1, 0, 0, 0},
			"SpaceX":              {0.9, 0.436, 0, 0},
			"rockets":             {1, 0, 0, 0},
		},
		Cache:     c,
		Validator: validation.New(cfg.Validation),
		Metrics:   m,
		Logger:    zap.NewNop(),
		Config:    cfg.Memory,
	})
	scheduler := jobs.NewScheduler(cfg.Jobs, jobs.Options{
		Store:   store,
		Locker:  jobs.NewMemoryLocker(nil),
		Cache:   c,
		Metrics: m,
		Logger:  zap.NewNop(),
	})

	return &testServer{
		router: NewRouter(RouterOptions{Service: svc, Jobs: scheduler, Metrics: m, Logger: zap.NewNop()}),
		store:  store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *testServer) create(t *testing.T, body map[string]any) string {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/nodes", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["node_id"].(string)
}

func TestNodeLifecycle(t *testing.T) {
	s := newTestServer(t)

	entity := s.create(t, map[string]any{"node_type": "Entity", "text": "SpaceX", "owner_id": "t1"})

	w, resp := s.do(t, http.MethodPost, "/api/nodes", map[string]any{
		"node_type": "Fact", "text": "Elon founded SpaceX", "owner_id": "t1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, resp["success"])
	fact := resp["node_id"].(string)
	links := resp["auto_links"].([]any)
	require.Len(t, links, 1)
	assert.Equal(t, entity, links[0].(map[string]any)["to_id"])

	w, resp = s.do(t, http.MethodGet, "/api/nodes/"+fact+"?owner_id=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	node := resp["node"].(map[string]any)
	assert.Equal(t, "Elon founded SpaceX", node["text"])
	assert.NotContains(t, node, "embedding")

	w, resp = s.do(t, http.MethodPatch, "/api/nodes/"+fact, map[string]any{
		"owner_id": "t1", "metadata": map[string]any{"source": "wiki"}, "versioning": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "wiki", resp["node"].(map[string]any)["metadata"].(map[string]any)["source"])

	w, resp = s.do(t, http.MethodGet, "/api/nodes/"+fact+"/history?owner_id=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["count"])

	w, resp = s.do(t, http.MethodPost, "/api/nodes/"+fact+"/outdated", map[string]any{"owner_id": "t1", "reason": "old"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "outdated", resp["node"].(map[string]any)["status"])

	w, _ = s.do(t, http.MethodDelete, "/api/nodes/"+fact+"?owner_id=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/nodes/"+fact+"?owner_id=t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "memory_not_found", resp["code"])
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"unknown node type", http.MethodPost, "/api/nodes", map[string]any{"node_type": "Thing", "text": "x"}},
		{"malformed json", http.MethodPost, "/api/nodes", `{"node_type":`},
		{"empty query", http.MethodPost, "/api/search", map[string]any{"query": ""}},
		{"non-numeric depth", http.MethodGet, "/api/nodes/x/context?depth=deep", nil},
		{"non-numeric threshold", http.MethodGet, "/api/nodes/x/similar?threshold=high", nil},
		{"unknown job", http.MethodPost, "/api/jobs/vacuum/run", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, "memory_validation_error", resp["code"])
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestSearchAndTraversal(t *testing.T) {
	s := newTestServer(t)
	entity := s.create(t, map[string]any{"node_type": "Entity", "text": "SpaceX", "owner_id": "t1"})
	fact := s.create(t, map[string]any{"node_type": "Fact", "text": "Elon founded SpaceX", "owner_id": "t1"})

	w, resp := s.do(t, http.MethodPost, "/api/search", map[string]any{"query": "rockets", "owner_id": "t1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, resp["count"])
	assert.Len(t, resp["facts"], 1)
	assert.Len(t, resp["entities"], 1)

	w, resp = s.do(t, http.MethodGet, "/api/nodes/"+fact+"/context?owner_id=t1&depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["nodes"], 2)
	assert.Len(t, resp["edges"], 1)

	w, resp = s.do(t, http.MethodGet, "/api/trace?owner_id=t1&from_id="+fact+"&to_id="+entity, nil)
	require.Equal(t, http.StatusOK, w.Code)
	paths := resp["paths"].([]any)
	require.Len(t, paths, 1)
	assert.EqualValues(t, 1, paths[0].(map[string]any)["length"])

	w, resp = s.do(t, http.MethodGet, "/api/trace?owner_id=t1&from_id="+fact+"&to_id=nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "memory_not_found", resp["code"])
}

func TestRelationsAndTriplets(t *testing.T) {
	s := newTestServer(t)
	a := s.create(t, map[string]any{"node_type": "Entity", "text": "Ada", "owner_id": "t1"})
	b := s.create(t, map[string]any{"node_type": "Entity", "text": "Babbage", "owner_id": "t1"})

	w, resp := s.do(t, http.MethodPost, "/api/relations", map[string]any{
		"from_id": a, "to_id": b, "relation_type": "WORKED_WITH", "owner_id": "t1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "WORKED_WITH", resp["relation"].(map[string]any)["relation_type"])

	w, resp = s.do(t, http.MethodDelete, "/api/relations", map[string]any{"from_id": a, "to_id": b, "owner_id": "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, resp["deleted"])

	triplet := map[string]any{"subject": "Ada", "predicate": "wrote notes on", "object_value": "Analytical Engine", "owner_id": "t1"}
	w, _ = s.do(t, http.MethodPost, "/api/triplets", triplet)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, resp = s.do(t, http.MethodPost, "/api/triplets", triplet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["triplet"].(map[string]any)["created"])

	w, resp = s.do(t, http.MethodGet, "/api/triplets?owner_id=t1&subject=ada", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, resp["count"])
	got := resp["triplets"].([]any)[0].(map[string]any)
	assert.Equal(t, "WROTE_NOTES_ON", got["predicate"])

	w, resp = s.do(t, http.MethodGet, "/api/stats?owner_id=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, resp["stats"].(map[string]any)["total_entities"])
}

func TestSummaryFact(t *testing.T) {
	s := newTestServer(t)
	f1 := s.create(t, map[string]any{"node_type": "Fact", "text": "one", "owner_id": "t1", "auto_link": false})
	f2 := s.create(t, map[string]any{"node_type": "Fact", "text": "two", "owner_id": "t1", "auto_link": false})

	w, resp := s.do(t, http.MethodPost, "/api/summaries", map[string]any{
		"fact_ids": []string{f1, f2}, "text": "one and two", "owner_id": "t1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, resp["relations"], 2)
	md := resp["node"].(map[string]any)["metadata"].(map[string]any)
	assert.Equal(t, true, md["is_summary"])
}

func TestHealthJobsAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])
	assert.Len(t, resp["jobs"], 2)

	w, resp = s.do(t, http.MethodPost, "/api/jobs/archive/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", resp["outcome"])

	w, resp = s.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, j := range resp["jobs"].([]any) {
		st := j.(map[string]any)
		if st["name"] == "archive" {
			assert.EqualValues(t, 1, st["runs"])
		}
	}

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph_memory_test_http_requests_total")
	assert.Contains(t, w.Body.String(), "graph_memory_test_job_runs_total")

	w, resp = s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, resp["success"])
}
