// Package session tracks the lifetime of an attendance session. The phase of a
// session is always derived from its timestamps; storage only follows it.
package session

import (
	"time"

	"classpresence/internal/auth"
)

// Status is the persisted, authoritative open/closed flag.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Phase is the time-derived stage of a session.
type Phase string

const (
	PhaseInitial  Phase = "INITIAL"
	PhaseReverify Phase = "REVERIFY"
	PhaseClosed   Phase = "CLOSED"
)

func (p Phase) rank() int {
	switch p {
	case PhaseInitial:
		return 0
	case PhaseReverify:
		return 1
	default:
		return 2
	}
}

// Session is one class meeting.
type Session struct {
	ID             string        `json:"id"`
	CourseID       string        `json:"course_id"`
	LecturerID     string        `json:"lecturer_id"`
	OrgID          string        `json:"org_id"`
	StartedAt      time.Time     `json:"started_at"`
	InitialEndsAt  time.Time     `json:"initial_ends_at"`
	ReverifyEndsAt time.Time     `json:"reverify_ends_at"`
	QRRotation     time.Duration `json:"-"`
	QRSecret       []byte        `json:"-"`
	Status         Status        `json:"status"`
	Phase          Phase         `json:"phase"`
	CreatedAt      time.Time     `json:"created_at"`

	// ObservedAt is the clock reading Phase was reconciled at. Tokens and
	// phase ends for this read are computed at this instant.
	ObservedAt time.Time `json:"-"`
}

// DerivePhase returns the phase of s at now. It never consults storage.
func DerivePhase(s *Session, now time.Time) Phase {
	switch {
	case s.Status == StatusClosed:
		return PhaseClosed
	case now.Before(s.InitialEndsAt):
		return PhaseInitial
	case now.Before(s.ReverifyEndsAt):
		return PhaseReverify
	default:
		return PhaseClosed
	}
}

// PhaseEndsAt returns when the phase current at now ends, or nil once closed.
func PhaseEndsAt(s *Session, now time.Time) *time.Time {
	var t time.Time
	switch DerivePhase(s, now) {
	case PhaseInitial:
		t = s.InitialEndsAt
	case PhaseReverify:
		t = s.ReverifyEndsAt
	default:
		return nil
	}
	return &t
}

// VisibleTo reports whether a belongs to the session's organisation.
func (s *Session) VisibleTo(a auth.Actor) bool {
	return a.OrgID != "" && a.OrgID == s.OrgID
}

// ManagedBy reports whether a may act as staff on s: the owning lecturer, or
// an administrator of the same organisation.
func (s *Session) ManagedBy(a auth.Actor) bool {
	if !s.VisibleTo(a) {
		return false
	}
	switch a.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleLecturer:
		return a.ID == s.LecturerID
	}
	return false
}
