package orders

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory order store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	nextRef  int64
	byExtID  map[string]int64
	statuses map[int64]string
	metadata map[int64]map[string]string
	notes    map[int64][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byExtID:  make(map[string]int64),
		statuses: make(map[int64]string),
		metadata: make(map[int64]map[string]string),
		notes:    make(map[int64][]string),
	}
}

// Add creates an order for the given external ID and returns its reference.
func (s *MemoryStore) Add(externalID, status string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRef++
	ref := s.nextRef
	s.byExtID[externalID] = ref
	s.statuses[ref] = status
	s.metadata[ref] = make(map[string]string)
	return ref
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, externalID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.byExtID[externalID]
	if !ok {
		return 0, ErrNotFound
	}
	return ref, nil
}

func (s *MemoryStore) Status(ctx context.Context, orderRef int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[orderRef]
	if !ok {
		return "", ErrNotFound
	}
	return status, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, orderRef int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statuses[orderRef]; !ok {
		return ErrNotFound
	}
	s.statuses[orderRef] = status
	return nil
}

func (s *MemoryStore) Metadata(ctx context.Context, orderRef int64, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[orderRef]
	if !ok {
		return "", false, ErrNotFound
	}
	value, present := meta[key]
	return value, present, nil
}

func (s *MemoryStore) SetMetadata(ctx context.Context, orderRef int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.metadata[orderRef]
	if !ok {
		return ErrNotFound
	}
	meta[key] = value
	return nil
}

func (s *MemoryStore) AppendNote(ctx context.Context, orderRef int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statuses[orderRef]; !ok {
		return ErrNotFound
	}
	s.notes[orderRef] = append(s.notes[orderRef], note)
	return nil
}

func (s *MemoryStore) Persist(ctx context.Context, orderRef int64) error {
	return nil
}

// Notes returns the notes appended to an order, oldest first.
func (s *MemoryStore) Notes(orderRef int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := make([]string, len(s.notes[orderRef]))
	copy(notes, s.notes[orderRef])
	return notes
}
