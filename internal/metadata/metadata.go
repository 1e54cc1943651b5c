// Package metadata persists, per indexed folder, the set of files that have
// been indexed and the fingerprint each was indexed at. It is the system's
// only source of truth for "does this file need to be re-indexed".
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileRecord is one file's indexing state within a folder's index entry.
type FileRecord struct {
	Hash      string    `json:"hash"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexEntry is the per-folder record described by the data model: a
// digest-keyed grouping of every file indexed under that folder.
type IndexEntry struct {
	ID        string                `json:"id"`
	Path      string                `json:"path"`
	IndexedAt time.Time             `json:"indexed_at"`
	FileCount int                   `json:"file_count"`
	Files     map[string]FileRecord `json:"files"`
}

type document struct {
	Indexes []*IndexEntry `json:"indexes"`
}

// FileDescriptor identifies a file on disk for change-detection purposes.
type FileDescriptor struct {
	Path  string
	Size  int64
	Mtime time.Time
}

// Fingerprint returns the file's fingerprint: "{size}_{mtime_seconds}".
func Fingerprint(d FileDescriptor) string {
	return fmt.Sprintf("%d_%d", d.Size, d.Mtime.Unix())
}

// FingerprintFile stats path and returns its fingerprint, or "" if the file
// cannot be stat'd (treated by callers as "needs reindex").
func FingerprintFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return Fingerprint(FileDescriptor{Path: path, Size: info.Size(), Mtime: info.ModTime()})
}

// Store is a JSON-backed, process- and cross-process-safe metadata store.
type Store struct {
	path string
	mu   sync.Mutex // serializes the read-modify-write cycle within this process
	lock *flock.Flock
}

// New opens (without yet reading) the metadata store backed by the JSON
// file at path.
func New(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &document{Indexes: []*IndexEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata store: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata store: %w", err)
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write metadata store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit metadata store: %w", err)
	}
	return nil
}

func (s *Store) withLock(fn func(*document) (*document, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire metadata lock: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	newDoc, err := fn(doc)
	if err != nil {
		return err
	}
	if newDoc == nil {
		return nil
	}
	return s.save(newDoc)
}

// FindOrCreateIndex returns the index entry for folder, creating and
// persisting one if it does not already exist. The id is a short
// deterministic digest of the folder path.
func (s *Store) FindOrCreateIndex(folder string) (*IndexEntry, error) {
	id := digestFolder(folder)
	var entry *IndexEntry

	err := s.withLock(func(doc *document) (*document, error) {
		for _, e := range doc.Indexes {
			if e.Path == folder {
				entry = e
				return nil, nil
			}
		}
		entry = &IndexEntry{
			ID:    id,
			Path:  folder,
			Files: map[string]FileRecord{},
		}
		doc.Indexes = append(doc.Indexes, entry)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// digestFolder returns a short deterministic id for a folder path.
func digestFolder(folder string) string {
	sum := sha256.Sum256([]byte(folder))
	return hex.EncodeToString(sum[:])[:8]
}

// ChangeSet partitions a folder's current file list against its stored
// metadata.
type ChangeSet struct {
	ToIndex   []string
	Unchanged []string
	Deleted   []string
}

// GetFilesNeedingIndex classifies allFiles against the stored index entry
// for folder: a file is ToIndex if it is absent from the stored map or its
// current fingerprint differs; Deleted enumerates stored paths absent from
// allFiles.
func (s *Store) GetFilesNeedingIndex(folder string, allFiles []FileDescriptor) (ChangeSet, error) {
	entry, err := s.FindOrCreateIndex(folder)
	if err != nil {
		return ChangeSet{}, err
	}

	current := make(map[string]struct{}, len(allFiles))
	var cs ChangeSet
	for _, f := range allFiles {
		current[f.Path] = struct{}{}
		fingerprint := Fingerprint(f)
		stored, ok := entry.Files[f.Path]
		if !ok || stored.Hash != fingerprint {
			cs.ToIndex = append(cs.ToIndex, f.Path)
		} else {
			cs.Unchanged = append(cs.Unchanged, f.Path)
		}
	}
	for path := range entry.Files {
		if _, ok := current[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	return cs, nil
}

// UpdateIndexMetadata atomically replaces the folder's files map.
func (s *Store) UpdateIndexMetadata(folder string, files map[string]FileRecord) error {
	return s.withLock(func(doc *document) (*document, error) {
		for _, e := range doc.Indexes {
			if e.Path == folder {
				e.Files = files
				e.FileCount = len(files)
				e.IndexedAt = time.Now()
				return doc, nil
			}
		}
		doc.Indexes = append(doc.Indexes, &IndexEntry{
			ID:        digestFolder(folder),
			Path:      folder,
			Files:     files,
			FileCount: len(files),
			IndexedAt: time.Now(),
		})
		return doc, nil
	})
}

// DeleteIndex removes the entry with the given id.
func (s *Store) DeleteIndex(id string) error {
	return s.withLock(func(doc *document) (*document, error) {
		out := doc.Indexes[:0]
		for _, e := range doc.Indexes {
			if e.ID != id {
				out = append(out, e)
			}
		}
		doc.Indexes = out
		return doc, nil
	})
}

// GetIndex returns the index entry for id, or nil if none exists.
func (s *Store) GetIndex(id string) (*IndexEntry, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, e := range doc.Indexes {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

// AllIndexes returns every registered index entry.
func (s *Store) AllIndexes() ([]*IndexEntry, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Indexes, nil
}
