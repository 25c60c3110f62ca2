package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session
	writes   int
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]Session)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.QRSecret = append([]byte(nil), s.QRSecret...)
	return &s, nil
}

func (m *MemoryRepository) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("session already exists")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	cp := *s
	cp.QRSecret = append([]byte(nil), s.QRSecret...)
	m.sessions[s.ID] = cp
	m.writes++
	return nil
}

func (m *MemoryRepository) Advance(ctx context.Context, id string, from, to Phase, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Phase != from {
		return false, nil
	}
	s.Phase = to
	if to == PhaseClosed {
		s.Status = StatusClosed
	}
	m.sessions[id] = s
	m.writes++
	return true, nil
}

// Writes returns the number of committed mutations.
func (m *MemoryRepository) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
