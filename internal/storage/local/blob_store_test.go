package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "pdf")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "exports/run-1/docs.pdf", "application/pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "exports/run-1/docs.pdf"))

	got, err := os.ReadFile(filepath.Join(dir, "exports", "run-1", "docs.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "exports", "run-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPutObjectOverwrites(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "docs.pdf", "", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "docs.pdf", "", strings.NewReader("new"))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "docs.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestPutObjectErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), "../escape.pdf", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "escapes base directory")

	_, err = store.PutObject(context.Background(), "broken.pdf", "", failingReader{})
	assert.ErrorContains(t, err, "disk on fire")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
