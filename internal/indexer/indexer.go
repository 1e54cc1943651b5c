// Package indexer implements the index_document contract: turning a file's
// raw text into chunks, embedding them, and upserting them into a vector
// store. IndexDocument owns no metadata bookkeeping — callers (the sync
// engine, the HTTP handlers) are responsible for recording its result in
// the metadata store once a call returns successfully. IndexBatch wraps
// IndexDocument and records one metadata update per folder itself.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/localdocs/docengine/internal/chunker"
	"github.com/localdocs/docengine/internal/embed"
	"github.com/localdocs/docengine/internal/engineerr"
	"github.com/localdocs/docengine/internal/metadata"
	"github.com/localdocs/docengine/internal/vectorstore"
)

// Indexer wires the chunker, embedder, and vector store together to
// implement a single file's index_document operation.
type Indexer struct {
	store    vectorstore.Adapter
	embedder embed.Embedder
	chunkCfg chunker.Config
}

// New builds an Indexer over an already-open vector store and embedder.
func New(store vectorstore.Adapter, embedder embed.Embedder) *Indexer {
	return &Indexer{store: store, embedder: embedder, chunkCfg: chunker.DefaultConfig()}
}

// WithChunkConfig overrides the default chunk size/overlap.
func (ix *Indexer) WithChunkConfig(cfg chunker.Config) *Indexer {
	ix.chunkCfg = cfg
	return ix
}

// IndexDocument implements index_document: delete any existing rows for
// filePath, chunk text, embed every chunk in one batch call, build rows,
// upsert them, and return the chunk count. The caller still owns updating
// the metadata store's FileRecord for filePath with the returned count and
// a fresh fingerprint — IndexDocument does not touch metadata.
//
// An empty (post-trim) text produces zero chunks: the file's old rows are
// still deleted (so a file that became empty drops out of search results)
// and IndexDocument returns 0 with no error.
func (ix *Indexer) IndexDocument(ctx context.Context, filePath, fileHash, text string) (int, error) {
	if err := ix.store.Delete(ctx, filePath); err != nil {
		return 0, engineerr.FatalStore("delete existing chunks", err)
	}

	chunks := chunker.ChunkText(text, ix.chunkCfg)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, engineerr.Transient("embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return 0, engineerr.Transient(fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
	}

	rows := make([]vectorstore.Row, len(chunks))
	for i, c := range chunks {
		rows[i] = vectorstore.Row{
			Vector:      vectors[i],
			Text:        c.Text,
			FilePath:    filePath,
			FileHash:    fileHash,
			ChunkIndex:  c.ChunkIndex,
			TotalChunks: c.TotalChunks,
		}
	}

	if err := ix.store.UpsertChunks(ctx, filePath, rows); err != nil {
		return 0, engineerr.FatalStore("upsert chunks", err)
	}

	return len(rows), nil
}

// FileInput is one file for IndexBatch: its path, fingerprint, and
// extracted text.
type FileInput struct {
	Path string
	Hash string
	Text string
}

// BatchResult summarizes an IndexBatch run.
type BatchResult struct {
	FilesIndexed int
	ChunksTotal  int
	Errors       []error
}

// IndexBatch indexes every file in files, then records a single metadata
// update for folder covering all files that succeeded. get_files_needing_index
// on md is the caller's responsibility before building files; deletedPaths
// lists files GetFilesNeedingIndex reported as gone from disk, which are
// dropped from the folder's stored file set and their vector rows removed.
// A single file's failure does not stop the batch; its error is collected
// in BatchResult.Errors and the batch goes on with the next file.
func (ix *Indexer) IndexBatch(ctx context.Context, md *metadata.Store, folder string, files []FileInput, deletedPaths []string) (BatchResult, error) {
	result := BatchResult{}

	entry, err := md.FindOrCreateIndex(folder)
	if err != nil {
		return result, engineerr.FatalStore("load index metadata", err)
	}

	merged := make(map[string]metadata.FileRecord, len(entry.Files))
	for path, rec := range entry.Files {
		merged[path] = rec
	}

	for _, path := range deletedPaths {
		if err := ix.store.Delete(ctx, path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", path, engineerr.FatalStore("delete vector rows", err)))
			continue
		}
		delete(merged, path)
	}

	for _, f := range files {
		count, err := ix.IndexDocument(ctx, f.Path, f.Hash, f.Text)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", f.Path, err))
			continue
		}
		result.FilesIndexed++
		result.ChunksTotal += count
		merged[f.Path] = metadata.FileRecord{Hash: f.Hash, Chunks: count, IndexedAt: time.Now()}
	}

	if err := md.UpdateIndexMetadata(folder, merged); err != nil {
		return result, engineerr.FatalStore("update index metadata", err)
	}

	return result, nil
}
