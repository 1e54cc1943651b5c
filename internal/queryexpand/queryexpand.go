// Package queryexpand turns a vague user query into several specific
// search queries plus structured hints, using a local LLM through Ollama's
// generate endpoint. Any failure — Ollama down, a malformed response, a
// timeout — degrades gracefully to the original query unexpanded.
package queryexpand

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURL     = "http://localhost:11434/api/generate"
	DefaultTimeout = 15 * time.Second
	DefaultModel   = "llama3.2:3b"
)

const expansionPromptTemplate = `You are a search query expander. Given a user's search query, generate 3-5 specific search queries that would help find the document they're looking for. Also extract any hints about file types, people, projects, or topics.

Respond ONLY with valid JSON in this exact format:
{"queries": ["query1", "query2", "query3"], "hints": {"people": [], "topics": [], "file_types": [], "projects": []}}

User query: %q

JSON response:`

// Hints groups entities the expander pulled out of the query.
type Hints struct {
	People    []string `json:"people"`
	Topics    []string `json:"topics"`
	FileTypes []string `json:"file_types"`
	Projects  []string `json:"projects"`
}

// Result is the outcome of expanding a query.
type Result struct {
	Queries []string `json:"queries"`
	Hints   Hints    `json:"hints"`
	UsedLLM bool     `json:"used_llm"`
}

func fallback(query string) Result {
	return Result{Queries: []string{query}, Hints: Hints{}, UsedLLM: false}
}

// Config configures an Expander.
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns the expander's default Ollama endpoint, model, and
// timeout.
func DefaultConfig() Config {
	return Config{URL: DefaultURL, Model: DefaultModel, Timeout: DefaultTimeout}
}

// Expander calls a local Ollama model to expand search queries.
type Expander struct {
	client *http.Client
	config Config
}

// New creates an Expander. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *Expander {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Expander{client: &http.Client{}, config: cfg}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type llmExpansion struct {
	Queries []string       `json:"queries"`
	Hints   map[string]any `json:"hints"`
}

// Expand expands query, never returning an error: any failure mode
// degrades to fallback(query).
func (e *Expander) Expand(ctx context.Context, query string) Result {
	reqBody, err := json.Marshal(generateRequest{
		Model:  e.config.Model,
		Prompt: buildPrompt(query),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 256,
		},
	})
	if err != nil {
		return fallback(query)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, e.config.URL, bytes.NewReader(reqBody))
	if err != nil {
		return fallback(query)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fallback(query)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fallback(query)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fallback(query)
	}

	parsed, ok := extractJSON(body.Response)
	if !ok || len(parsed.Queries) == 0 {
		return fallback(query)
	}

	queries := parsed.Queries
	if !contains(queries, query) {
		queries = append([]string{query}, queries...)
	}

	return Result{
		Queries: queries,
		Hints:   hintsFromMap(parsed.Hints),
		UsedLLM: true,
	}
}

func buildPrompt(query string) string {
	return strings.Replace(expansionPromptTemplate, "%q", `"`+query+`"`, 1)
}

// extractJSON tries a direct parse of text first, falling back to slicing
// out the first '{'..last '}' span — LLMs routinely wrap JSON in prose or
// markdown fences.
func extractJSON(text string) (llmExpansion, bool) {
	trimmed := strings.TrimSpace(text)

	var parsed llmExpansion
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed, true
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return llmExpansion{}, false
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil {
		return parsed, true
	}
	return llmExpansion{}, false
}

func hintsFromMap(m map[string]any) Hints {
	return Hints{
		People:    stringSlice(m["people"]),
		Topics:    stringSlice(m["topics"]),
		FileTypes: stringSlice(m["file_types"]),
		Projects:  stringSlice(m["projects"]),
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

// CheckOllamaReachable probes host for liveness with a short timeout,
// mirroring the health check consulted by /health's model_loaded field.
func CheckOllamaReachable(ctx context.Context, host string) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
