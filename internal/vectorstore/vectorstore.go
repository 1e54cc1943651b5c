// Package vectorstore abstracts the chunk table the rest of the engine
// reads and writes: a set of rows keyed implicitly by file_path and
// chunk_index, searchable by vector similarity. Two variants are provided —
// an approximate-nearest-neighbour store backed by an in-process HNSW graph
// for normal operation, and a brute-force flat store for small corpora and
// tests — behind the same Adapter interface.
package vectorstore

import (
	"context"
	"fmt"
)

// Row is one persisted chunk: its vector, its text, and the identity fields
// needed to group rows back into a document.
type Row struct {
	Vector      []float32
	Text        string
	FilePath    string
	FileHash    string
	ChunkIndex  int
	TotalChunks int
	Metadata    map[string]string
}

// Key returns the "{file_path}::{chunk_index}" identity of the row.
func (r Row) Key() string {
	return fmt.Sprintf("%s::%d", r.FilePath, r.ChunkIndex)
}

// SearchResult is a row returned from a similarity search, annotated with
// its distance from the query vector (ascending = more similar).
type SearchResult struct {
	Row
	Distance float64
}

// Adapter is the Vector Store Adapter contract. Implementations must
// observe upserts atomically: a search issued after UpsertChunks returns
// must never see a mix of old and new rows for the affected file_path.
type Adapter interface {
	// UpsertChunks atomically deletes every row for filePath, then inserts
	// rows.
	UpsertChunks(ctx context.Context, filePath string, rows []Row) error

	// Delete removes every row for filePath.
	Delete(ctx context.Context, filePath string) error

	// Search returns the limit nearest rows to query, ascending by distance.
	Search(ctx context.Context, query []float32, limit int) ([]SearchResult, error)

	// ScanAll returns every row currently stored, in a stable order.
	ScanAll(ctx context.Context) ([]Row, error)

	// CountRows returns the number of rows currently stored.
	CountRows(ctx context.Context) (int, error)

	// Save persists the store to path.
	Save(path string) error

	// Load restores the store from path.
	Load(path string) error

	// Close releases resources held by the store.
	Close() error
}

// ErrDimensionMismatch indicates a vector's dimensionality didn't match the
// store's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
