package attendance

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
	mu     sync.RWMutex
	byID   map[string]*Record
	byPair map[string]string
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Record), byPair: make(map[string]string)}
}

func pairKey(sessionID, studentID string) string { return sessionID + "\x00" + studentID }

func (m *MemoryRepository) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairKey(sessionID, studentID)]
	if !ok {
		return nil, nil
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryRepository) Create(ctx context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(rec.SessionID, rec.StudentID)
	if id, ok := m.byPair[key]; ok {
		return *m.byID[id], false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReverifyStatus == "" {
		rec.ReverifyStatus = ReverifyPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored := rec
	m.byID[rec.ID] = &stored
	m.byPair[key] = rec.ID
	return rec, true, nil
}

func (m *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.byID {
		if rec.SessionID == sessionID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (m *MemoryRepository) CompleteReverify(ctx context.Context, id string, out ReverifyOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || !rec.ReverifyStatus.open() {
		return false, nil
	}
	at := out.At
	rec.ReverifyStatus = out.Status
	rec.Confidence = out.Confidence
	rec.Flagged = out.Flagged
	rec.ReverifyMarkedAt = &at
	return true, nil
}

func (m *MemoryRepository) ApplyManualOverride(ctx context.Context, id string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	rec.ReverifyStatus = ReverifyManualPresent
	rec.ReverifyManualOverride = true
	rec.ReverifyManualOverriddenAt = &at
	rec.ReverifyMarkedAt = &at
	rec.Flagged = false
	cp := *rec
	return &cp, nil
}
