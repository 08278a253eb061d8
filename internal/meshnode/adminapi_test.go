package meshnode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

func newTestMux(t *testing.T) (*Node, *http.ServeMux) {
	t.Helper()
	node, err := New(testConfig(t), nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	node.registerAdminRoutes(mux)
	return node, mux
}

func TestHandleMemoryQueryReturnsFusedResults(t *testing.T) {
	node, mux := newTestMux(t)
	require.NoError(t, node.VectorStore.Upsert(context.Background(), "ingested_documents", []vectorstore.Point{
		{ID: "doc-1", Vector: []float32{1, 0, 0, 0}, Content: "phoenix mesh handshake protocol", Namespace: "ingested_documents"},
	}))
	node.Retrieval.Collections = []string{"ingested_documents"}

	body, _ := json.Marshal(map[string]any{"query": "phoenix mesh handshake", "top_k": 5})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-1", resp.Results[0]["doc_id"])
}

func TestHandleKnowledgeAtlasRequiresCrossEncoder(t *testing.T) {
	_, mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/atlas?collection=ingested_documents", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleKnowledgePathReturnsNotFoundWhenNodesAbsent(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = "test-key"
	node, err := New(cfg, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	node.registerAdminRoutes(mux)
	node.Retrieval.Collections = []string{"ingested_documents"}

	body, _ := json.Marshal(map[string]string{"collection": "ingested_documents", "start": "a", "end": "b"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/path", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Found bool `json:"found"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
}
