// Package memory provides an in-memory page archive for tests and the
// one-shot CLI path.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Blob is one archived object.
type Blob struct {
	ContentType string
	Data        []byte
}

// Store keeps archived pages in a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// New constructs an empty Store.
func New() *Store {
	return &Store{blobs: make(map[string]Blob)}
}

// PutObject stores a copy of data under path and returns a mem:// URI.
func (s *Store) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[path] = Blob{ContentType: contentType, Data: buf}
	s.mu.Unlock()
	return "mem://" + path, nil
}

// Get returns the blob stored under path.
func (s *Store) Get(path string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[path]
	return blob, ok
}

// Len reports the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
