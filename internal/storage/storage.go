// Package storage defines where generated documents are published.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// BlobStore persists one object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// ContentTypePDF is the media type of every object the scraper writes.
const ContentTypePDF = "application/pdf"

// ObjectKey joins a configured prefix and key parts into a slash-separated
// object key without leading or duplicate separators.
func ObjectKey(prefix string, parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	for _, p := range append([]string{prefix}, parts...) {
		if p = strings.Trim(p, "/"); p != "" {
			elems = append(elems, p)
		}
	}
	return path.Join(elems...)
}
