// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client *gstorage.Client
	cfg    Config
}

var _ storage.BlobStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *gstorage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, cfg: cfg}, nil
}

// PutObject uploads r and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(key, "/")
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.cfg.CacheControl != "" {
		writer.CacheControl = s.cfg.CacheControl
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", key, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, key), nil
}
