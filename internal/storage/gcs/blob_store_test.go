package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gstorage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "docs-exports"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	var body string
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/docs-exports/o")
		assert.Equal(t, "run-1/docs.pdf", r.URL.Query().Get("name"))
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(data)
		fmt.Fprintln(w, `{"name": "run-1/docs.pdf", "bucket": "docs-exports"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/run-1/docs.pdf", "application/pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "gs://docs-exports/run-1/docs.pdf", uri)
	assert.Contains(t, body, "%PDF-1.7")
	assert.Contains(t, body, "application/pdf")
}

func TestPutObjectSurfacesServerErrors(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "docs.pdf", "application/pdf", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := gstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{Bucket: " "})
	assert.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "/", "", strings.NewReader("x"))
	assert.Error(t, err)
}
