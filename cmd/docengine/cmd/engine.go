package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/localdocs/docengine/internal/chunker"
	"github.com/localdocs/docengine/internal/config"
	"github.com/localdocs/docengine/internal/connector"
	"github.com/localdocs/docengine/internal/connector/imap"
	"github.com/localdocs/docengine/internal/embed"
	"github.com/localdocs/docengine/internal/httpapi"
	"github.com/localdocs/docengine/internal/indexer"
	"github.com/localdocs/docengine/internal/metadata"
	"github.com/localdocs/docengine/internal/parse"
	"github.com/localdocs/docengine/internal/pipeline"
	"github.com/localdocs/docengine/internal/queryexpand"
	"github.com/localdocs/docengine/internal/reranker"
	syncengine "github.com/localdocs/docengine/internal/sync"
	"github.com/localdocs/docengine/internal/telemetry"
	"github.com/localdocs/docengine/internal/vectorstore"
)

// engine bundles every constructed component a CLI command needs. It exists
// so serve and the one-off debug commands share exactly one construction
// path rather than drifting apart.
type engine struct {
	cfg      *config.Config
	store    vectorstore.Adapter
	embedder embed.Embedder
	indexer  *indexer.Indexer
	pipeline *pipeline.Pipeline
	metadata *metadata.Store
	registry *connector.Registry
	sync     *syncengine.Engine
	parser   *parse.Registry
	metrics  *telemetry.QueryMetrics
	server   *httpapi.Server
}

// buildEngine loads configuration from dir and wires every component the
// HTTP surface and CLI commands depend on. Embedding provider selection and
// cache behavior honor the DOCENGINE_EMBEDDER/DOCENGINE_EMBED_CACHE
// environment variables inside embed.NewEmbedder.
func buildEngine(ctx context.Context, dir string) (*engine, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("construct embedder: %w", err)
	}

	dims := cfg.Embeddings.Dimensions
	if dims == 0 {
		dims = embed.StaticDimensions
	}
	store := vectorstore.NewHNSWAdapter(vectorstore.DefaultConfig(dims))

	ix := indexer.New(store, embedder).WithChunkConfig(chunker.Config{
		ChunkSize: cfg.Search.ChunkSize,
		Overlap:   cfg.Search.ChunkOverlap,
	})

	expander := queryexpand.New(queryexpand.DefaultConfig())
	rr := reranker.NoOpReranker{}
	if cfg.Reranker.Enabled {
		rr = reranker.Lazy(ctx, cfg.RerankerHTTPConfig())
	}
	metricsStore := telemetry.NewJSONMetricsStore(filepath.Join(cfg.DataRoot, "query_metrics.json"))
	metrics := telemetry.NewQueryMetrics(metricsStore)
	p := pipeline.New(store, embedder, expander, rr).WithMetrics(metrics)

	md := metadata.New(filepath.Join(cfg.DataRoot, "index_metadata.json"))

	reg := connector.NewRegistry(
		filepath.Join(cfg.DataRoot, "connectors", "connectors_config.json"),
		filepath.Join(cfg.DataRoot, "connectors"),
	)
	reg.Register("gmail", imap.New)

	se := syncengine.New(reg, ix, md)

	parser := parse.NewRegistry()

	srv := httpapi.New(cfg, p, ix, md, reg, se, parser, store)

	return &engine{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		indexer:  ix,
		pipeline: p,
		metadata: md,
		registry: reg,
		sync:     se,
		parser:   parser,
		metrics:  metrics,
		server:   srv,
	}, nil
}
