// Package memory keeps published objects in memory. It backs dry runs and
// tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage"
)

// Object is one stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore stores objects in a map and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

var _ storage.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject reads r fully and stores a private copy under key.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: data, ContentType: contentType}
	return "memory://" + key, nil
}

// Get returns a copy of the object stored under key.
func (s *BlobStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, false
	}
	obj.Data = slices.Clone(obj.Data)
	return obj, true
}

// Keys returns the stored keys in lexical order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Size returns the total number of stored bytes.
func (s *BlobStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, obj := range s.objects {
		n += int64(len(obj.Data))
	}
	return n
}
