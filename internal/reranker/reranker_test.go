package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestNoOpReranker_PreservesOrderWithDecreasingScores(t *testing.T) {
	r := NoOpReranker{}
	results, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, results[i].Document)
		assert.Equal(t, i, results[i].Index)
	}
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
}

func TestNoOpReranker_RespectsTopK(t *testing.T) {
	r := NoOpReranker{}
	results, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestNoOpReranker_AlwaysAvailable(t *testing.T) {
	r := NoOpReranker{}
	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}

func TestHTTPReranker_RerankParsesResponse(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/rerank":
			var req rerankRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(rerankResponse{
				Results: []struct {
					Index    int     `json:"index"`
					Score    float64 `json:"score"`
					Document string  `json:"document"`
				}{
					{Index: 1, Score: 0.9, Document: req.Documents[1]},
					{Index: 0, Score: 0.2, Document: req.Documents[0]},
				},
			})
		}
	})

	r, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer r.Close()

	results, err := r.Rerank(context.Background(), "query", []string{"doc0", "doc1"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1", results[0].Document)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestHTTPReranker_EmptyDocumentsShortCircuits(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPReranker_ConstructionFailsWhenServiceUnreachable(t *testing.T) {
	_, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestHTTPReranker_SkipHealthCheckAllowsConstructionWithoutProbe(t *testing.T) {
	r, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond, SkipHealthCheck: true})
	require.NoError(t, err)
	defer r.Close()
}

func TestHTTPReranker_RerankFailsAfterClose(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 0)
	assert.Error(t, err)
	assert.False(t, r.Available(context.Background()))
}

func TestHTTPReranker_RerankSurfacesServerError(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	r, err := NewHTTPReranker(context.Background(), HTTPConfig{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Rerank(context.Background(), "q", []string{"a"}, 0)
	assert.Error(t, err)
}

func TestLazy_FallsBackToNoOpWhenUnreachable(t *testing.T) {
	// lazyOnce is package-global; this test assumes it runs in isolation
	// of other Lazy() callers within the same test binary run.
	r := Lazy(context.Background(), HTTPConfig{Endpoint: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	_, isNoOp := r.(NoOpReranker)
	assert.True(t, isNoOp)

	again := Lazy(context.Background(), HTTPConfig{Endpoint: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	assert.Equal(t, r, again)
}
