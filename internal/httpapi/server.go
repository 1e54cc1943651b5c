// Package httpapi exposes the engine's twelve components over the HTTP
// surface described in the external interfaces design: health, parse,
// index, search, metadata maintenance, and the connector lifecycle
// (including sync's server-sent-event progress stream). It wires a
// chi.Router with the same middleware stack used elsewhere in the
// retrieved corpus's HTTP services.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/localdocs/docengine/internal/config"
	"github.com/localdocs/docengine/internal/connector"
	"github.com/localdocs/docengine/internal/engineerr"
	"github.com/localdocs/docengine/internal/indexer"
	"github.com/localdocs/docengine/internal/metadata"
	"github.com/localdocs/docengine/internal/parse"
	"github.com/localdocs/docengine/internal/pipeline"
	"github.com/localdocs/docengine/internal/queryexpand"
	syncengine "github.com/localdocs/docengine/internal/sync"
	"github.com/localdocs/docengine/internal/vectorstore"
)

// Server wires HTTP handlers to the engine's components. Every field is a
// dependency constructed elsewhere (cmd/docengine) and handed in, so the
// server itself owns no process lifecycle concerns.
type Server struct {
	cfg      *config.Config
	router   http.Handler
	pipeline *pipeline.Pipeline
	indexer  *indexer.Indexer
	metadata *metadata.Store
	registry *connector.Registry
	sync     *syncengine.Engine
	parser   *parse.Registry
	store    vectorstore.Adapter
}

// New constructs a Server with the provided dependencies and registers
// every route described by the external interface contract.
func New(cfg *config.Config, p *pipeline.Pipeline, ix *indexer.Indexer, md *metadata.Store, reg *connector.Registry, se *syncengine.Engine, parser *parse.Registry, store vectorstore.Adapter) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:      cfg,
		router:   mux,
		pipeline: p,
		indexer:  ix,
		metadata: md,
		registry: reg,
		sync:     se,
		parser:   parser,
		store:    store,
	}

	mux.Get("/health", s.handleHealth)
	mux.Post("/parse", s.handleParse)
	mux.Post("/index", s.handleIndex)
	mux.Post("/search", s.handleSearch)
	mux.Post("/metadata/check", s.handleMetadataCheck)
	mux.Post("/metadata/update", s.handleMetadataUpdate)
	mux.Delete("/metadata/{index_id}", s.handleMetadataDelete)
	mux.Post("/connectors", s.handleAddConnector)
	mux.Get("/connectors", s.handleListConnectors)
	mux.Get("/connectors/types", s.handleConnectorTypes)
	mux.Get("/connectors/{id}/status", s.handleConnectorStatus)
	mux.Delete("/connectors/{id}", s.handleRemoveConnector)
	mux.Post("/connectors/{id}/sync", s.handleSyncConnector)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// statusForKind maps an engineerr.Kind to the HTTP status §7 assigns it.
// KindConcurrency is normally reported in-band by the sync engine but maps
// to 409 if one surfaces raw. KindTransient (for example an embedding
// failure during /index or /search) has no case of its own and falls
// through to 500.
func statusForKind(kind engineerr.Kind) int {
	switch kind {
	case engineerr.KindInput:
		return http.StatusBadRequest
	case engineerr.KindAuth:
		return http.StatusBadRequest
	case engineerr.KindFatalStore:
		return http.StatusInternalServerError
	case engineerr.KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return engineerr.Input("decode request body", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	modelLoaded := queryexpand.CheckOllamaReachable(r.Context(), s.cfg.Embeddings.Host)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"model_loaded":         modelLoaded,
		"engine_version":       s.cfg.EngineVersion,
		"last_indexed_version": s.cfg.LastIndexedVersion,
		"needs_reindex":        s.cfg.NeedsReindex(),
	})
}

type parseRequest struct {
	FilePath string `json:"file_path"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	text, err := s.parser.Extract(req.FilePath)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": text})
}

type indexRequest struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, errors.New("file_path must not be empty"))
		return
	}

	hash := metadata.FingerprintFile(req.FilePath)
	chunkCount, err := s.indexer.IndexDocument(r.Context(), req.FilePath, hash, req.Content)
	if err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"file_hash":   hash,
		"chunk_count": chunkCount,
	})
}

type searchRequest struct {
	Query   string         `json:"query"`
	Limit   int            `json:"limit"`
	Options *searchOptions `json:"options"`
}

type searchOptions struct {
	ExpandQuery *bool `json:"expand_query"`
	Rerank      *bool `json:"rerank"`
	Hybrid      *bool `json:"hybrid"`
	VectorLimit *int  `json:"vector_limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	opts := pipeline.DefaultOptions()
	if req.Options != nil {
		if req.Options.ExpandQuery != nil {
			opts.ExpandQuery = *req.Options.ExpandQuery
		}
		if req.Options.Rerank != nil {
			opts.Rerank = *req.Options.Rerank
		}
		if req.Options.Hybrid != nil {
			opts.Hybrid = *req.Options.Hybrid
		}
		if req.Options.VectorLimit != nil && *req.Options.VectorLimit > 0 {
			opts.VectorLimit = *req.Options.VectorLimit
		}
	}

	hits, meta, err := s.pipeline.Search(r.Context(), req.Query, req.Limit, opts)
	if err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}
	if hits == nil {
		hits = []pipeline.Hit{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
		"meta": map[string]any{
			"used_llm":         meta.UsedLLM,
			"expanded_queries": meta.ExpandedQueries,
			"hints":            meta.Hints,
		},
	})
}

type metadataCheckRequest struct {
	FolderPath string           `json:"folder_path"`
	AllFiles   []fileDescriptor `json:"all_files"`
}

type fileDescriptor struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

func (s *Server) handleMetadataCheck(w http.ResponseWriter, r *http.Request) {
	var req metadataCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	descriptors := make([]metadata.FileDescriptor, len(req.AllFiles))
	for i, f := range req.AllFiles {
		descriptors[i] = metadata.FileDescriptor{Path: f.Path, Size: f.Size, Mtime: time.Unix(f.Mtime, 0)}
	}

	changes, err := s.metadata.GetFilesNeedingIndex(req.FolderPath, descriptors)
	if err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"needsIndex": orEmpty(changes.ToIndex),
		"unchanged":  orEmpty(changes.Unchanged),
		"deleted":    orEmpty(changes.Deleted),
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type metadataUpdateRequest struct {
	FolderPath    string                       `json:"folder_path"`
	FilesMetadata map[string]fileMetadataEntry `json:"files_metadata"`
}

type fileMetadataEntry struct {
	Hash   string `json:"hash"`
	Chunks int    `json:"chunks"`
}

func (s *Server) handleMetadataUpdate(w http.ResponseWriter, r *http.Request) {
	var req metadataUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	files := make(map[string]metadata.FileRecord, len(req.FilesMetadata))
	now := time.Now()
	for path, entry := range req.FilesMetadata {
		files[path] = metadata.FileRecord{Hash: entry.Hash, Chunks: entry.Chunks, IndexedAt: now}
	}

	if err := s.metadata.UpdateIndexMetadata(req.FolderPath, files); err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMetadataDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "index_id")
	if err := s.metadata.DeleteIndex(id); err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type addConnectorRequest struct {
	Type         string            `json:"type"`
	Credentials  map[string]string `json:"credentials"`
	Label        string            `json:"label"`
	SyncInterval int               `json:"sync_interval"`
}

func (s *Server) handleAddConnector(w http.ResponseWriter, r *http.Request) {
	var req addConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SyncInterval <= 0 {
		req.SyncInterval = 30
	}

	status, err := s.registry.Add(r.Context(), req.Type, req.Label, req.Credentials)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sync.AddSchedule(status.ID, req.SyncInterval)

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "connector": status})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}
	if statuses == nil {
		statuses = []connector.StatusInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": statuses})
}

func (s *Server) handleConnectorTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.registry.Types()})
}

func (s *Server) handleConnectorStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, conn.GetStatus())
}

func (s *Server) handleRemoveConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := s.registry.Get(r.Context(), id)
	if err == nil && conn != nil {
		folder := conn.ItemsFolder()
		for _, path := range txtFilesIn(folder) {
			_ = s.store.Delete(r.Context(), path)
		}
	}

	s.sync.RemoveSchedule(id)
	if err := s.registry.Remove(r.Context(), id); err != nil {
		writeError(w, statusForKind(engineerr.KindOf(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSyncConnector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// runID correlates every frame of a single sync run for clients tailing
	// concurrent syncs over one connection pool.
	runID := uuid.New().String()

	sendFrame(w, flusher, map[string]any{"type": "progress", "run_id": runID, "message": "starting sync"})

	progress := func(message string) {
		sendFrame(w, flusher, map[string]any{"type": "progress", "run_id": runID, "message": message})
	}

	result, err := s.sync.SyncConnector(r.Context(), id, progress)
	if err != nil {
		if engineerr.KindOf(err) == engineerr.KindConcurrency {
			sendFrame(w, flusher, map[string]any{"run_id": runID, "error": err.Error()})
			return
		}
		sendFrame(w, flusher, map[string]any{
			"type":        "complete",
			"run_id":      runID,
			"new_items":   result.NewItems,
			"total_items": result.TotalItems,
			"errors":      append(result.Errors, err.Error()),
		})
		return
	}

	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	sendFrame(w, flusher, map[string]any{
		"type":        "complete",
		"run_id":      runID,
		"new_items":   result.NewItems,
		"total_items": result.TotalItems,
		"errors":      errs,
	})
}

func sendFrame(w http.ResponseWriter, flusher http.Flusher, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// txtFilesIn lists the .txt files directly under folder, the same set the
// sync engine indexes for a connector. Errors (including a missing
// folder) yield an empty list rather than blocking connector removal.
func txtFilesIn(folder string) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		paths = append(paths, filepath.Join(folder, entry.Name()))
	}
	return paths
}
