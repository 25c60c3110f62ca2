// Package audit keeps the append-only trail of domain events per session.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"classpresence/internal/auth"
	"classpresence/internal/metrics"
	"classpresence/internal/queue"
	"classpresence/internal/session"
)

// Entry is one recorded domain event.
type Entry struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository stores audit entries.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListBySession(ctx context.Context, sessionID string) ([]Entry, error)
}

// PostgresRepository writes to audit_log.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, org_id, session_id, event_type, actor_id, subject_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`, e.ID, e.OrgID, e.SessionID, e.Type, e.ActorID, e.SubjectID, e.Detail, e.OccurredAt)
	return err
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, session_id, event_type, actor_id, COALESCE(subject_id, ''), COALESCE(detail, ''), occurred_at
		FROM audit_log WHERE session_id = $1 ORDER BY occurred_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.SessionID, &e.Type, &e.ActorID, &e.SubjectID, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRepository() *MemoryRepository { return &MemoryRepository{} }

func (m *MemoryRepository) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Record decodes msg and appends it to repo.
func Record(ctx context.Context, repo Repository, msg queue.Message) error {
	evt, err := queue.Decode(msg)
	if err != nil {
		return err
	}
	if evt.SessionID == "" {
		return errors.New("event without session id")
	}
	return repo.Append(ctx, Entry{
		OrgID:      evt.OrgID,
		SessionID:  evt.SessionID,
		Type:       evt.Type,
		ActorID:    evt.ActorID,
		SubjectID:  evt.SubjectID,
		Detail:     evt.Detail,
		OccurredAt: evt.At,
	})
}

// Consume appends every message from q until ctx is cancelled. Malformed
// messages are logged and dropped.
func Consume(ctx context.Context, q queue.Queue, repo Repository) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume events: %w", err)
	}
	for msg := range msgs {
		if err := Record(ctx, repo, msg); err != nil {
			metrics.EventsConsumed.WithLabelValues(msg.Type, "error").Inc()
			log.Error().Err(err).Str("event", msg.Type).Msg("audit write failed")
			continue
		}
		metrics.EventsConsumed.WithLabelValues(msg.Type, "ok").Inc()
	}
	return ctx.Err()
}

// Trail serves a session's audit entries to its staff.
type Trail struct {
	sessions *session.Manager
	repo     Repository
}

func NewTrail(sessions *session.Manager, repo Repository) *Trail {
	return &Trail{sessions: sessions, repo: repo}
}

// ForSession returns the entries of a session owned by a.
func (t *Trail) ForSession(ctx context.Context, a auth.Actor, sessionID string) ([]Entry, error) {
	sess, err := t.sessions.Owned(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := t.repo.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
