package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama uses a local Ollama instance (the default).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash-based embeddings, for tests
	// and fully offline operation.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder for provider, with environment variables
// able to override the provider and model selection. Embedding results are
// cached by default; set DOCENGINE_EMBED_CACHE=false to disable.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if envProvider := os.Getenv("DOCENGINE_EMBEDDER"); envProvider != "" {
		provider = ParseProvider(envProvider)
	}

	var embedder Embedder
	var err error

	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder()
	default:
		embedder, err = newOllamaEmbedder(ctx, model)
	}
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("DOCENGINE_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

func newOllamaEmbedder(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" {
		cfg.Model = model
	}
	if host := os.Getenv("DOCENGINE_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("DOCENGINE_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if connectTimeoutStr := os.Getenv("DOCENGINE_OLLAMA_CONNECT_TIMEOUT"); connectTimeoutStr != "" {
		if timeout, err := time.ParseDuration(connectTimeoutStr); err == nil {
			cfg.ConnectTimeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w (start it with 'ollama serve', or set DOCENGINE_EMBEDDER=static for an offline fallback)", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to a ProviderType, defaulting to Ollama
// for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

func (p ProviderType) String() string { return string(p) }

// ValidProviders returns every recognized provider name.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider reports whether s names a recognized provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// Info describes a resolved embedder.
type Info struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects embedder, unwrapping a CachedEmbedder if present, and
// reports its provider, model, dimensionality, and reachability.
func GetInfo(ctx context.Context, embedder Embedder) Info {
	info := Info{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization paths where failure should be fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("create embedder: %v", err))
	}
	return embedder
}
