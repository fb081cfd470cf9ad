package store

import (
	"context"
	"sync"

	"github.com/sandboxrun/engine/internal/types"
)

// MemoryStore is an in-process Store for tests and single-instance
// deployments without an external database.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*types.Submission
	byToken map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*types.Submission),
		byToken: make(map[string]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, sub *types.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.byID[sub.ID] = &cp
	if sub.Token != "" {
		s.byToken[sub.Token] = sub.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) GetByToken(ctx context.Context, token string) (*types.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) MarkTerminal(ctx context.Context, sub *types.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[sub.ID]
	if ok && existing.Status.IsTerminal() {
		return false, nil
	}
	cp := *sub
	s.byID[sub.ID] = &cp
	if sub.Token != "" {
		s.byToken[sub.Token] = sub.ID
	}
	return true, nil
}
