package parse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdocs/docengine/internal/engineerr"
)

func TestExtract_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	r := NewRegistry()
	text, err := r.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtract_Markdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nbody"), 0o644))

	r := NewRegistry()
	text, err := r.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", text)
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract("/tmp/whatever.pdf")
	require.Error(t, err)
	assert.Equal(t, engineerr.KindInput, engineerr.KindOf(err))
}

func TestExtract_MissingFile(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract("/nonexistent/path.txt")
	require.Error(t, err)
}

func TestSupported(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Supported(".txt"))
	assert.True(t, r.Supported("md"))
	assert.False(t, r.Supported(".pdf"))
}

func TestRegister_OverridesExtractor(t *testing.T) {
	r := NewRegistry()
	r.Register(".pdf", ExtractorFunc(func(path string) (string, error) {
		return "stub extracted text", nil
	}))

	text, err := r.Extract("/tmp/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "stub extracted text", text)
}
