package proofstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory artifact store for tests and demo wiring.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string]Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Artifact)}
}

func (s *MemoryStore) Put(ctx context.Context, key, mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = Artifact{Key: key, MimeType: mimeType, Data: buf}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := a
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Has reports whether an artifact exists under key.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}
