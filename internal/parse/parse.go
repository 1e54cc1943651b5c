// Package parse dispatches a file path to a text extractor by extension.
// Format-specific extraction (PDF, DOCX, and similar) is out of scope for
// this engine; only the dispatch contract and a plain-text/markdown
// extractor are implemented here. Every extractor satisfies the same
// Extract(path) (string, error) interface so a richer implementation can be
// registered later without changing callers.
package parse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/localdocs/docengine/internal/engineerr"
)

// Extractor converts a file on disk to plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(path string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(path string) (string, error) {
	return f(path)
}

// plainTextExtractor reads a file's bytes as-is. It backs every extension
// this engine currently supports (.txt, .md, and .markdown); a path with no
// extension has no extractor.
var plainTextExtractor = ExtractorFunc(func(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
})

// Registry dispatches Extract calls by lowercased file extension.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a Registry with the built-in plain-text/markdown
// extractors registered.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(".txt", plainTextExtractor)
	r.Register(".md", plainTextExtractor)
	r.Register(".markdown", plainTextExtractor)
	return r
}

// Register associates an extension (including the leading dot, e.g. ".txt")
// with an Extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

// Extract dispatches on path's lowercased extension. An unregistered
// extension returns an engineerr.KindInput error; callers map this to
// {success:false} rather than propagating a 500.
func (r *Registry) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := r.extractors[ext]
	if !ok {
		return "", engineerr.Input(fmt.Sprintf("unsupported extension: %s", ext), nil)
	}
	return extractor.Extract(path)
}

// Supported reports whether ext (with or without a leading dot) has a
// registered extractor.
func (r *Registry) Supported(ext string) bool {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	_, ok := r.extractors[strings.ToLower(ext)]
	return ok
}
