package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skalli/internal/entity"
)

// memStore keeps everything in process memory.
type memStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*entity.Project
	audit    []AuditEntry
	closed   bool
}

func newMemStore() *memStore {
	return &memStore{projects: map[uuid.UUID]*entity.Project{}}
}

func (s *memStore) PutProject(_ context.Context, p *entity.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

func (s *memStore) GetProject(_ context.Context, id uuid.UUID) (*entity.Project, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (s *memStore) ProjectIDs(context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedIDs(s.projects), nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedIDs(m map[uuid.UUID]*entity.Project) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
