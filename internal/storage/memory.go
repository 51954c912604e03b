package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStore is an in-process ObjectStore for tests. Setting FailContains
// forces uploads whose key contains that substring to fail.
type MemoryStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	FailContains string
}

// NewMemoryStore constructs an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Upload stores the payload under key and returns a synthetic URL.
func (s *MemoryStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	failContains := s.FailContains
	s.mu.Unlock()
	if failContains != "" && strings.Contains(key, failContains) {
		return "", errors.New("simulated upload failure")
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	return fmt.Sprintf("memory://%s", key), nil
}

// Delete removes the object if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Object returns a stored payload and whether it exists.
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
