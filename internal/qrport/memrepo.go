package qrport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Request)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryRepository) Create(ctx context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(req.SessionID, req.StudentID) != nil {
		return ErrActiveRequestExists
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	stored := *req
	m.byID[req.ID] = &stored
	return nil
}

func (m *MemoryRepository) activeLocked(sessionID, studentID string) *Request {
	for _, req := range m.byID {
		if req.SessionID == sessionID && req.StudentID == studentID && req.Status.active() {
			return req
		}
	}
	return nil
}

func (m *MemoryRepository) FindActive(ctx context.Context, sessionID, studentID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.activeLocked(sessionID, studentID)
	if req == nil {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.byID {
		if req.SessionID == sessionID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) Decide(ctx context.Context, id string, status Status, staffID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok || req.Status != StatusPending {
		return false, nil
	}
	by := staffID
	req.Status = status
	req.DecidedBy = &by
	req.DecidedAt = &at
	return true, nil
}
