package retention

import (
	"context"
	"fmt"
	"sync"

	"compliance-core/internal/models"
)

// ArchiveStorage is the cold blob store for archive payloads
type ArchiveStorage interface {
	// Store writes payload under batchID and returns its storage path
	Store(ctx context.Context, batchID string, payload []byte, compressed bool) (string, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	GetSize(ctx context.Context, path string) (int64, error)
}

// MemoryStorage keeps archive blobs in process memory
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage creates an empty blob store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (s *MemoryStorage) Store(ctx context.Context, batchID string, payload []byte, compressed bool) (string, error) {
	path := "memory://archives/" + batchID + ".json"
	if compressed {
		path += ".gz"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), payload...)
	return path, nil
}

func (s *MemoryStorage) Retrieve(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[path]
	if !ok {
		return nil, models.NewStorageError(fmt.Sprintf("archive blob not found: %s", path), nil)
	}
	return append([]byte(nil), blob...), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

func (s *MemoryStorage) GetSize(ctx context.Context, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[path]
	if !ok {
		return 0, models.NewStorageError(fmt.Sprintf("archive blob not found: %s", path), nil)
	}
	return int64(len(blob)), nil
}

// Len returns the number of stored blobs
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
