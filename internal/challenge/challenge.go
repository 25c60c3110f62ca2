// Package challenge serves the live rotating QR challenge of a session.
package challenge

import (
	"context"
	"fmt"
	"time"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/qr"
	"classpresence/internal/session"
)

// Challenge is what a display device polls for.
type Challenge struct {
	Payload        qr.Payload `json:"payload"`
	PhaseEndsAt    *time.Time `json:"phase_ends_at"`
	NextRotationMs int64      `json:"next_rotation_ms"`
}

// ForSession returns the challenge of a synced session at now, which must be
// the instant the session's phase was reconciled at.
func ForSession(s *session.Session, now time.Time) (Challenge, error) {
	if s.Phase == session.PhaseClosed {
		return Challenge{}, apperr.ErrSessionClosed
	}
	p, err := qr.Generate(s.ID, s.QRSecret, string(s.Phase), s.QRRotation, now)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate qr payload: %w", err)
	}
	return Challenge{
		Payload:        p,
		PhaseEndsAt:    session.PhaseEndsAt(s, now),
		NextRotationMs: qr.NextRotation(s.QRRotation, now).Milliseconds(),
	}, nil
}

// Service serves the session owner's challenge.
type Service struct {
	sessions *session.Manager
}

// NewService creates a challenge service.
func NewService(sessions *session.Manager) *Service {
	return &Service{sessions: sessions}
}

// Owner returns the current challenge to the staff member who owns the session.
func (s *Service) Owner(ctx context.Context, a auth.Actor, sessionID string) (Challenge, error) {
	sess, err := s.sessions.Owned(ctx, a, sessionID)
	if err != nil {
		return Challenge{}, err
	}
	return ForSession(sess, sess.ObservedAt)
}
