// Package qrport lets a student without camera access borrow the live session
// challenge on their own device once the session's staff approve it.
package qrport

import (
	"context"
	"errors"
	"time"
)

// Status of a port request. APPROVED and REJECTED are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) active() bool { return s == StatusPending || s == StatusApproved }

// Request is a delegation request for one (session, student) pair.
type Request struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	StudentID   string     `json:"student_id"`
	Status      Status     `json:"status"`
	DecidedBy   *string    `json:"decided_by,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// ErrActiveRequestExists is returned by Repository.Create when the pair
// already holds a PENDING or APPROVED request.
var ErrActiveRequestExists = errors.New("active qr port request exists")

// Repository persists port requests. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	Get(ctx context.Context, id string) (*Request, error)
	Create(ctx context.Context, req *Request) error
	// FindActive returns the pair's PENDING or APPROVED request.
	FindActive(ctx context.Context, sessionID, studentID string) (*Request, error)
	ListBySession(ctx context.Context, sessionID string) ([]Request, error)
	// Decide moves a PENDING request to status; false means it was no longer PENDING.
	Decide(ctx context.Context, id string, status Status, staffID string, at time.Time) (bool, error)
}
