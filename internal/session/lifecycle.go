package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/queue"
)

const (
	MinRotation = 5 * time.Second
	MaxRotation = 5 * time.Minute

	DefaultInitialWindow  = 10 * time.Minute
	DefaultReverifyWindow = 5 * time.Minute
	DefaultTotalLimit     = 3 * time.Hour

	secretBytes = 32
)

// Settings configures a Manager. Zero values fall back to the defaults.
type Settings struct {
	Rotation   time.Duration
	TotalLimit time.Duration
	Now        func() time.Time
	Events     queue.Publisher
}

// Manager derives and reconciles session phases. It is the only writer of session state.
type Manager struct {
	repo       Repository
	rotation   time.Duration
	totalLimit time.Duration
	now        func() time.Time
	events     queue.Publisher
}

// NewManager creates a manager backed by repo.
func NewManager(repo Repository, s Settings) *Manager {
	m := &Manager{repo: repo, rotation: s.Rotation, totalLimit: s.TotalLimit, now: s.Now, events: s.Events}
	if m.rotation <= 0 {
		m.rotation = 30 * time.Second
	}
	if m.totalLimit <= 0 {
		m.totalLimit = DefaultTotalLimit
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.now() }

// StartInput describes a new session. Zero durations use the defaults.
type StartInput struct {
	CourseID       string
	InitialWindow  time.Duration
	ReverifyWindow time.Duration
	Rotation       time.Duration
}

// Start opens a new ACTIVE session owned by the calling lecturer.
func (m *Manager) Start(ctx context.Context, a auth.Actor, in StartInput) (*Session, error) {
	if !a.IsStaff() {
		return nil, apperr.Forbidden("only staff can start a session")
	}
	if in.CourseID == "" {
		return nil, apperr.Invalid(nil, "course id required")
	}
	if in.InitialWindow == 0 {
		in.InitialWindow = DefaultInitialWindow
	}
	if in.ReverifyWindow == 0 {
		in.ReverifyWindow = DefaultReverifyWindow
	}
	if in.Rotation == 0 {
		in.Rotation = m.rotation
	}
	if in.InitialWindow < 0 || in.ReverifyWindow < 0 {
		return nil, apperr.Invalid(nil, "session windows must be positive")
	}
	if in.InitialWindow+in.ReverifyWindow > m.totalLimit {
		return nil, apperr.Invalid(nil, "session lifetime exceeds %s", m.totalLimit)
	}
	if in.Rotation < MinRotation || in.Rotation > MaxRotation {
		return nil, apperr.Invalid(nil, "qr rotation must be between %s and %s", MinRotation, MaxRotation)
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	now := m.now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		CourseID:       in.CourseID,
		LecturerID:     a.ID,
		OrgID:          a.OrgID,
		StartedAt:      now,
		InitialEndsAt:  now.Add(in.InitialWindow),
		ReverifyEndsAt: now.Add(in.InitialWindow + in.ReverifyWindow),
		QRRotation:     in.Rotation,
		QRSecret:       secret,
		Status:         StatusActive,
		Phase:          PhaseInitial,
		ObservedAt:     now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session_id", s.ID).Str("course_id", s.CourseID).Str("lecturer_id", a.ID).
		Time("reverify_ends_at", s.ReverifyEndsAt).Msg("session started")
	queue.Emit(ctx, m.events, queue.Event{
		Type:      queue.EventSessionStarted,
		OrgID:     s.OrgID,
		SessionID: s.ID,
		ActorID:   a.ID,
		Detail:    "course_id=" + s.CourseID,
		At:        now,
	})
	return s, nil
}

// Sync reads the session and reconciles its stored phase with the derived one.
// It writes nothing once the session is closed.
func (m *Manager) Sync(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apperr.Invalid(nil, "session id required")
	}
	now := m.now()
	// The stored phase only moves forward, so a lost race can repeat at most twice.
	for attempt := 0; attempt < 3; attempt++ {
		s, err := m.repo.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if s == nil {
			return nil, apperr.ErrSessionNotFound
		}
		s.ObservedAt = now
		derived := DerivePhase(s, now)
		if derived.rank() <= s.Phase.rank() {
			return s, nil
		}
		ok, err := m.repo.Advance(ctx, id, s.Phase, derived, now.UTC())
		if err != nil {
			return nil, fmt.Errorf("advance session phase: %w", err)
		}
		if ok {
			s.Phase = derived
			if derived == PhaseClosed {
				s.Status = StatusClosed
				log.Info().Str("session_id", id).Msg("session closed by schedule")
				queue.Emit(ctx, m.events, queue.Event{
					Type:      queue.EventSessionClosed,
					OrgID:     s.OrgID,
					SessionID: id,
					ActorID:   "system",
					Detail:    "reason=schedule",
					At:        now.UTC(),
				})
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("sync session %s: phase did not converge", id)
}

// Get returns the synced session when a belongs to its organisation.
func (m *Manager) Get(ctx context.Context, a auth.Actor, id string) (*Session, error) {
	s, err := m.Sync(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.VisibleTo(a) {
		return nil, apperr.ErrSessionNotFound
	}
	return s, nil
}

// Owned returns the synced session when a may manage it.
func (m *Manager) Owned(ctx context.Context, a auth.Actor, id string) (*Session, error) {
	s, err := m.Get(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !s.ManagedBy(a) {
		return nil, apperr.ErrNotSessionOwner
	}
	return s, nil
}

// Close ends the session immediately. Closing a closed session is a no-op.
func (m *Manager) Close(ctx context.Context, a auth.Actor, id string) (*Session, error) {
	for attempt := 0; attempt < 3; attempt++ {
		s, err := m.Owned(ctx, a, id)
		if err != nil {
			return nil, err
		}
		if s.Status == StatusClosed {
			return s, nil
		}
		ok, err := m.repo.Advance(ctx, id, s.Phase, PhaseClosed, s.ObservedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("close session: %w", err)
		}
		if ok {
			s.Phase, s.Status = PhaseClosed, StatusClosed
			log.Info().Str("session_id", id).Str("actor_id", a.ID).Msg("session closed by staff")
			queue.Emit(ctx, m.events, queue.Event{
				Type:      queue.EventSessionClosed,
				OrgID:     s.OrgID,
				SessionID: id,
				ActorID:   a.ID,
				Detail:    "reason=staff",
				At:        s.ObservedAt.UTC(),
			})
			return s, nil
		}
	}
	return nil, fmt.Errorf("close session %s: phase did not converge", id)
}
