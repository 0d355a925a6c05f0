package artifact

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, jobID, name string, data []byte) error {
	if err := validate(jobID, name); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[jobID] == nil {
		s.jobs[jobID] = make(map[string][]byte)
	}
	s.jobs[jobID][name] = buf
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID, name string) ([]byte, error) {
	if err := validate(jobID, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.jobs[jobID][name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, jobID string) ([]string, error) {
	if err := validate(jobID, ""); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs[jobID]))
	for name := range s.jobs[jobID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	if err := validate(jobID, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}
