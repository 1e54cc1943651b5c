// Package reranker scores (query, document) pairs with a cross-encoder to
// refine the ordering search produces from vector/BM25 fusion alone.
// Cross-encoders jointly encode the query and document, which is far more
// accurate than a bi-encoder's independent embeddings but too expensive to
// run over the whole corpus — so it only ever scores the top candidates a
// cheaper retrieval stage already narrowed down.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/localdocs/docengine/internal/resilience"
)

// Result is one scored document.
type Result struct {
	// Index is the position of the document in the Rerank call's input.
	Index    int
	Score    float64
	Document string
}

// Reranker scores and reorders documents by relevance to a query.
type Reranker interface {
	// Rerank returns documents sorted by score descending, truncated to
	// topK (0 means return all).
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in their original order, assigning
// strictly decreasing scores so the order is preserved by a
// sort-by-score-descending caller. Used when a cross-encoder is disabled
// or unreachable.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]Result, error) {
	results := make([]Result, len(documents))
	for i, doc := range documents {
		results[i] = Result{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (NoOpReranker) Available(_ context.Context) bool { return true }
func (NoOpReranker) Close() error                     { return nil }

// HTTPConfig configures an HTTP-backed cross-encoder service client.
type HTTPConfig struct {
	Endpoint        string
	Model           string
	Timeout         time.Duration
	SkipHealthCheck bool
}

const (
	DefaultHTTPTimeout = 10 * time.Second
)

// DefaultHTTPConfig returns sensible defaults for a locally running
// cross-encoder service.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Endpoint: "http://localhost:9659", Model: "ms-marco-MiniLM-L-6-v2", Timeout: DefaultHTTPTimeout}
}

// HTTPReranker calls out to an HTTP service exposing a /rerank endpoint.
// The service is expected to be lazily loaded on its own side (the first
// request pays model load cost); this client itself holds no model state.
type HTTPReranker struct {
	client  *http.Client
	config  HTTPConfig
	breaker *resilience.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client against an already-running
// cross-encoder service, probing /health unless SkipHealthCheck is set.
func NewHTTPReranker(ctx context.Context, cfg HTTPConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHTTPConfig().Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		}},
		config: cfg,
		breaker: resilience.NewCircuitBreaker("reranker:"+cfg.Endpoint,
			resilience.WithMaxFailures(5),
			resilience.WithResetTimeout(30*time.Second)),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("reranker service unreachable: %w", err)
		}
	}

	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reranker service unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index    int     `json:"index"`
		Score    float64 `json:"score"`
		Document string  `json:"document"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("reranker is closed")
	}
	if len(documents) == 0 {
		return []Result{}, nil
	}

	return resilience.CircuitExecuteWithResult(r.breaker,
		func() ([]Result, error) { return r.doRerank(ctx, query, documents, topK) },
		func() ([]Result, error) { return nil, resilience.ErrCircuitOpen })
}

func (r *HTTPReranker) doRerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	reqBody, err := json.Marshal(rerankRequest{Query: query, Documents: documents, Model: r.config.Model, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	results := make([]Result, len(result.Results))
	for i, item := range result.Results {
		results[i] = Result{Index: item.Index, Score: item.Score, Document: item.Document}
	}
	return results, nil
}

func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// lazy holds a process-wide Reranker, instantiated at most once.
var (
	lazyOnce sync.Once
	lazy     Reranker
)

// Lazy returns the process-wide reranker, creating it on first call by
// attempting an HTTPReranker against cfg and falling back to NoOpReranker
// if the service is unreachable. Subsequent calls return the same
// instance regardless of cfg.
func Lazy(ctx context.Context, cfg HTTPConfig) Reranker {
	lazyOnce.Do(func() {
		r, err := NewHTTPReranker(ctx, cfg)
		if err != nil {
			lazy = NoOpReranker{}
			return
		}
		lazy = r
	})
	return lazy
}
