package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdocs/docengine/internal/config"
	"github.com/localdocs/docengine/internal/connector"
	"github.com/localdocs/docengine/internal/embed"
	"github.com/localdocs/docengine/internal/indexer"
	"github.com/localdocs/docengine/internal/metadata"
	"github.com/localdocs/docengine/internal/parse"
	"github.com/localdocs/docengine/internal/pipeline"
	"github.com/localdocs/docengine/internal/reranker"
	syncengine "github.com/localdocs/docengine/internal/sync"
	"github.com/localdocs/docengine/internal/vectorstore"
)

type fakeConnector struct {
	id          string
	typ         string
	authErr     error
	itemsFolder string
	status      connector.Status
}

func (f *fakeConnector) Authenticate(_ context.Context, _ map[string]string) error {
	if f.authErr != nil {
		return f.authErr
	}
	f.status = connector.StatusAuthenticated
	return nil
}

func (f *fakeConnector) Sync(_ context.Context, progress connector.ProgressFunc) (connector.SyncResult, error) {
	if progress != nil {
		progress("fetching")
	}
	return connector.SyncResult{NewItems: 2, TotalItems: 2}, nil
}

func (f *fakeConnector) GetStatus() connector.StatusInfo {
	return connector.StatusInfo{ID: f.id, Type: f.typ, Status: f.status, ItemsFolder: f.itemsFolder}
}

func (f *fakeConnector) Cleanup() error { return nil }

func (f *fakeConnector) ItemsFolder() string { return f.itemsFolder }

func fakeFactory(authErr error) connector.Factory {
	return func(id, typ string, _ map[string]string, baseDir string) connector.Connector {
		return &fakeConnector{id: id, typ: typ, authErr: authErr, itemsFolder: filepath.Join(baseDir, "items")}
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	store := vectorstore.NewFlatAdapter(embed.StaticDimensions)
	embedder := embed.NewStaticEmbedder()
	ix := indexer.New(store, embedder)
	p := pipeline.New(store, embedder, nil, reranker.NoOpReranker{})

	md := metadata.New(filepath.Join(dir, "index_metadata.json"))

	reg := connector.NewRegistry(filepath.Join(dir, "connectors", "connectors_config.json"), filepath.Join(dir, "connectors"))
	reg.Register("fake", fakeFactory(nil))

	se := syncengine.New(reg, ix, md)
	parser := parse.NewRegistry()

	cfg := config.NewConfig()
	cfg.Embeddings.Host = "http://127.0.0.1:1" // unreachable by construction

	return New(cfg, p, ix, md, reg, se, parser, store)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_ReportsStatusAndModelLoaded(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["model_loaded"])
}

func TestHandleParse_UnsupportedExtensionReturnsSuccessFalse(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/parse", map[string]string{"file_path": "/tmp/doc.pdf"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "unsupported extension")
}

func TestHandleIndexAndSearch_RoundTrips(t *testing.T) {
	s := newTestServer(t)

	docPath := filepath.Join(t.TempDir(), "budget.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("quarterly budget report with financial figures"), 0o644))

	indexRec := doRequest(t, s, http.MethodPost, "/index", map[string]string{
		"file_path": docPath,
		"content":   "quarterly budget report with financial figures",
	})
	assert.Equal(t, http.StatusOK, indexRec.Code)
	var indexBody map[string]any
	require.NoError(t, json.Unmarshal(indexRec.Body.Bytes(), &indexBody))
	assert.Equal(t, true, indexBody["success"])
	assert.NotEmpty(t, indexBody["file_hash"])
	assert.Greater(t, indexBody["chunk_count"], float64(0))

	searchRec := doRequest(t, s, http.MethodPost, "/search", map[string]any{
		"query": "budget",
		"limit": 5,
		"options": map[string]any{
			"expand_query": false,
			"rerank":       false,
		},
	})
	assert.Equal(t, http.StatusOK, searchRec.Code)
	var searchBody map[string]any
	require.NoError(t, json.Unmarshal(searchRec.Body.Bytes(), &searchBody))
	results, ok := searchBody["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
}

func TestHandleIndex_FileHashMatchesFingerprintFile(t *testing.T) {
	s := newTestServer(t)

	docPath := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("some notes"), 0o644))
	want := metadata.FingerprintFile(docPath)
	require.NotEmpty(t, want)

	rec := doRequest(t, s, http.MethodPost, "/index", map[string]string{
		"file_path": docPath,
		"content":   "some notes",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, want, body["file_hash"])
}

func TestHandleSearch_RejectsEmptyQuery(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetadataCheck_PartitionsFiles(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.metadata.UpdateIndexMetadata("/docs", map[string]metadata.FileRecord{
		"/docs/old.txt": {Hash: "1_100", Chunks: 1},
	}))

	rec := doRequest(t, s, http.MethodPost, "/metadata/check", map[string]any{
		"folder_path": "/docs",
		"all_files": []map[string]any{
			{"path": "/docs/new.txt", "size": 10, "mtime": 200},
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []any{"/docs/new.txt"}, body["needsIndex"])
	assert.ElementsMatch(t, []any{"/docs/old.txt"}, body["deleted"])
}

func TestHandleConnectorLifecycle_AddListStatusRemove(t *testing.T) {
	s := newTestServer(t)

	addRec := doRequest(t, s, http.MethodPost, "/connectors", map[string]any{
		"type":  "fake",
		"label": "my inbox",
	})
	assert.Equal(t, http.StatusOK, addRec.Code)
	var addBody map[string]any
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &addBody))
	conn := addBody["connector"].(map[string]any)
	id := conn["connector_id"].(string)
	require.NotEmpty(t, id)

	typesRec := doRequest(t, s, http.MethodGet, "/connectors/types", nil)
	assert.Equal(t, http.StatusOK, typesRec.Code)
	var typesBody map[string]any
	require.NoError(t, json.Unmarshal(typesRec.Body.Bytes(), &typesBody))
	assert.Contains(t, typesBody["types"], "fake")

	listRec := doRequest(t, s, http.MethodGet, "/connectors", nil)
	assert.Equal(t, http.StatusOK, listRec.Code)

	statusRec := doRequest(t, s, http.MethodGet, "/connectors/"+id+"/status", nil)
	assert.Equal(t, http.StatusOK, statusRec.Code)

	removeRec := doRequest(t, s, http.MethodDelete, "/connectors/"+id, nil)
	assert.Equal(t, http.StatusOK, removeRec.Code)

	statusAfterRemove := doRequest(t, s, http.MethodGet, "/connectors/"+id+"/status", nil)
	assert.Equal(t, http.StatusNotFound, statusAfterRemove.Code)
}

func TestHandleAddConnector_UnknownTypeReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/connectors", map[string]any{"type": "nonexistent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncConnector_StreamsProgressThenComplete(t *testing.T) {
	s := newTestServer(t)

	addRec := doRequest(t, s, http.MethodPost, "/connectors", map[string]any{"type": "fake"})
	var addBody map[string]any
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &addBody))
	conn := addBody["connector"].(map[string]any)
	id := conn["connector_id"].(string)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connectors/"+id+"/sync", nil)
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"progress"`)
	assert.Contains(t, rec.Body.String(), `"type":"complete"`)

	var runIDs []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		const prefix = "data: "
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, prefix)), &frame))
		runID, ok := frame["run_id"].(string)
		require.True(t, ok, "frame missing run_id: %s", line)
		runIDs = append(runIDs, runID)
	}
	require.NotEmpty(t, runIDs)
	for _, id := range runIDs {
		assert.Equal(t, runIDs[0], id, "every frame of one sync run should share a run_id")
	}
}
