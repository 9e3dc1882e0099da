package downloads

import (
	"errors"
	"strconv"
	"sync"
)

// FileStore persists downloaded assets and serves them back by id. The game
// server's own asset database implements this in production; MemoryFileStore
// covers tests and single-process use.
type FileStore interface {
	// Store persists data and returns its content id.
	Store(data []byte) (string, error)

	// Get returns the stored data for id, or an error when it is not
	// retrievable.
	Get(id string) ([]byte, error)
}

// ErrNotFound is returned by FileStore.Get for unknown ids.
var ErrNotFound = errors.New("downloads: file not found")

// MemoryFileStore is a process-local FileStore.
type MemoryFileStore struct {
	mu    sync.Mutex
	seq   int
	files map[string][]byte
}

// NewMemoryFileStore creates an empty in-memory file store.
func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: make(map[string][]byte)}
}

// Store implements FileStore.
func (s *MemoryFileStore) Store(data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := strconv.Itoa(s.seq)
	s.files[id] = data
	return id, nil
}

// Get implements FileStore.
func (s *MemoryFileStore) Get(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// Ensure MemoryFileStore implements FileStore
var _ FileStore = (*MemoryFileStore)(nil)
